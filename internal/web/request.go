// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// form holds the string fields of a request body.
type form map[string]string

func (f form) get(name string) string { return f[name] }

// readForm reads a JSON or urlencoded body into a form. Fields that are
// absent or not scalars read as empty, so the service reports them as
// missing input. Only an oversized body is an error.
func readForm(w http.ResponseWriter, r *http.Request) (form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")) //nolint:errcheck // unknown types read as JSON

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		var err error
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(maxBodyBytes)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			if tooLarge(err) {
				return nil, err //nolint:wrapcheck // classified by respondError
			}
			return form{}, nil
		}
		f := make(form, len(r.PostForm))
		for key := range r.PostForm {
			f[key] = r.PostForm.Get(key)
		}
		return f, nil
	default:
		var raw map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			if tooLarge(err) {
				return nil, err //nolint:wrapcheck // classified by respondError
			}
			return form{}, nil
		}
		f := make(form, len(raw))
		for key, v := range raw {
			switch v := v.(type) {
			case string:
				f[key] = v
			case json.Number:
				// The literal text, so 12345678901234567890 stays intact.
				f[key] = v.String()
			case bool:
				f[key] = strconv.FormatBool(v)
			}
		}
		return f, nil
	}
}

func tooLarge(err error) bool {
	var maxBytes *http.MaxBytesError
	return errors.As(err, &maxBytes)
}
