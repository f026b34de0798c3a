// Package sessionid encodes credential blobs as portable session ID tokens.
//
// A token is the gzip-compressed blob, base64-encoded and prefixed with
// "PGATE;;;" so it can be pasted into a deployment environment and
// recognized on sight. Importing a token seeds a new session's credential
// scope, letting it skip the challenge flow while the material is valid.
package sessionid

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	gerrors "github.com/pairgate/gateway/internal/errors"
)

// Prefix marks pairgate session ID tokens.
const Prefix = "PGATE;;;"

// maxBlobSize caps decompressed blobs to keep a hostile token from
// ballooning in memory.
const maxBlobSize = 1 << 20

// Encode turns a credential blob into a session ID token.
func Encode(blob []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(blob); err != nil {
		return "", fmt.Errorf("compress blob: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress blob: %w", err)
	}

	return Prefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode turns a session ID token back into a credential blob.
func Decode(token string) ([]byte, error) {
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, Prefix) {
		return nil, gerrors.New(gerrors.CodeExportBadToken, "session ID is missing the PGATE prefix")
	}

	packed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(token, Prefix))
	if err != nil {
		return nil, gerrors.Wrap(gerrors.CodeExportBadToken, "session ID is not valid base64", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, gerrors.Wrap(gerrors.CodeExportBadToken, "session ID is not gzip data", err)
	}
	defer zr.Close()

	blob, err := io.ReadAll(io.LimitReader(zr, maxBlobSize+1))
	if err != nil {
		return nil, gerrors.Wrap(gerrors.CodeExportBadToken, "session ID failed to decompress", err)
	}
	if len(blob) > maxBlobSize {
		return nil, gerrors.New(gerrors.CodeExportBadToken, "session ID decompresses beyond the size limit")
	}

	return blob, nil
}
