package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/go-while/go-bolts/router"
)

const multipartMemory = 32 << 20

var ErrBadBody = errors.New("malformed request body")

// hasBody reports whether requests with verb carry parameters in their body.
func hasBody(v router.Verb) bool {
	switch v {
	case router.Post, router.Put, router.Patch, router.Delete:
		return true
	}
	return false
}

// parseBody decodes the request body into params according to its content
// type. Unknown content types leave the body for the handler to read.
func parseBody(w http.ResponseWriter, r *http.Request, maxBytes int64) (router.VerbParams, error) {
	var params router.VerbParams
	ct := r.Header.Get("Content-Type")
	if ct == "" || r.Body == nil || r.Body == http.NoBody {
		return params, nil
	}
	mediaType, mparams, err := mime.ParseMediaType(ct)
	if err != nil {
		return params, fmt.Errorf("%w: %v", ErrBadBody, err)
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return params, err
		}
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return params, fmt.Errorf("%w: %v", ErrBadBody, err)
		}
		return decodeValues(values, mparams["charset"])

	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return params, err
			}
			return params, fmt.Errorf("%w: %v", ErrBadBody, err)
		}
		return decodeValues(url.Values(r.MultipartForm.Value), mparams["charset"])

	case "application/json":
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return params, err
		}
		return jsonParams(raw)
	}
	return params, nil
}

// decodeValues converts values from charset to UTF-8.
func decodeValues(values url.Values, charset string) (router.VerbParams, error) {
	dec, err := charsetDecoder(charset)
	if err != nil {
		return router.VerbParams{}, err
	}
	if dec == nil {
		return router.NewVerbParams(values), nil
	}
	var params router.VerbParams
	for key, vals := range values {
		k, err := dec.String(key)
		if err != nil {
			return params, fmt.Errorf("%w: %v", ErrBadBody, err)
		}
		for _, v := range vals {
			s, err := dec.String(v)
			if err != nil {
				return params, fmt.Errorf("%w: %v", ErrBadBody, err)
			}
			params.Add(k, s)
		}
	}
	return params, nil
}

// charsetDecoder returns nil for UTF-8 and unspecified charsets.
func charsetDecoder(charset string) (*encoding.Decoder, error) {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return nil, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported charset %q", ErrBadBody, charset)
	}
	return enc.NewDecoder(), nil
}

// jsonParams flattens the members of a JSON object: scalars become one
// value, arrays one value per element, nested objects their raw JSON.
func jsonParams(raw []byte) (router.VerbParams, error) {
	var params router.VerbParams
	if len(strings.TrimSpace(string(raw))) == 0 {
		return params, nil
	}
	if !gjson.ValidBytes(raw) {
		return params, fmt.Errorf("%w: invalid JSON", ErrBadBody)
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return params, fmt.Errorf("%w: JSON body must be an object", ErrBadBody)
	}
	doc.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		switch {
		case value.IsArray():
			for _, el := range value.Array() {
				params.Add(name, jsonString(el))
			}
		default:
			params.Add(name, jsonString(value))
		}
		return true
	})
	return params, nil
}

func jsonString(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.JSON:
		return v.Raw
	}
	return v.String()
}
