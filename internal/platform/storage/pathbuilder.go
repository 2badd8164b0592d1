package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/masar-academy/api/internal/services"
)

const (
	maxFileNameLength = 96
	fallbackFileStem  = "receipt"
)

var errEmptyFileName = errors.New("storage: file name is required")

// EvidenceObjectPath composes {evidence prefix of userID}{uploadID}/{name}, the only layout the
// order service accepts for bank-transfer receipts. The ids must be single path segments; the
// client file name is reduced to a safe ASCII name that keeps its extension.
func EvidenceObjectPath(userID, uploadID, fileName string) (string, error) {
	uid, err := pathSegment("user id", userID)
	if err != nil {
		return "", err
	}
	upload, err := pathSegment("upload id", uploadID)
	if err != nil {
		return "", err
	}
	name, err := safeFileName(fileName)
	if err != nil {
		return "", err
	}
	return services.EvidencePrefix(uid) + upload + "/" + name, nil
}

func pathSegment(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", field)
	case value == "." || value == ".." || strings.ContainsAny(value, `/\`):
		return "", fmt.Errorf("storage: %s is not a single path segment", field)
	}
	return value, nil
}

// safeFileName keeps ASCII letters, digits and underscores of the base name and folds every other
// run of characters into one dash. Names written entirely in other scripts become "receipt".
func safeFileName(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndexAny(raw, `/\`); i >= 0 {
		raw = raw[i+1:]
	}
	ext := path.Ext(raw)
	stem := fold(strings.TrimSuffix(raw, ext))
	ext = strings.ToLower(fold(strings.TrimPrefix(ext, ".")))
	if stem == "" && ext == "" {
		return "", errEmptyFileName
	}
	if stem == "" {
		stem = fallbackFileStem
	}
	if ext != "" {
		ext = "." + ext
	}
	if limit := maxFileNameLength - len(ext); len(stem) > limit {
		stem = strings.TrimRight(stem[:limit], "-")
	}
	return stem + ext, nil
}

func fold(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range s {
		ascii := r < utf8.RuneSelf
		if ascii && (r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
