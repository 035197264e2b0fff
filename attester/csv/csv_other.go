//go:build !linux

package csv

import "errors"

func getReport(devicePath string, request []byte) ([]byte, error) {
	return nil, errors.New("CSV attestation reports are only available on linux")
}
