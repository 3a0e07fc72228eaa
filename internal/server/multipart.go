package server

import (
	"errors"
	"io"
	"mime/multipart"
)

var errNoFirmwarePart = errors.New(`multipart body has no "firmware" part`)

func newMultipart(r io.Reader, boundary string) (*multipart.Reader, error) {
	if boundary == "" {
		return nil, errors.New("multipart body without boundary")
	}
	return multipart.NewReader(r, boundary), nil
}

// firmwarePart skips to the "firmware" part without buffering the others.
func firmwarePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoFirmwarePart
		}
		if err != nil {
			return nil, err
		}
		if p.FormName() == "firmware" {
			return p, nil
		}
		_ = p.Close()
	}
}
