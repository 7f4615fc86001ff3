package utils

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID gera um identificador ordenável no tempo com o prefixo informado (ex.: "ses_").
func NewID(prefix string) string {
	t := time.Now().UTC()
	return prefix + strings.ToLower(ulid.MustNew(ulid.Timestamp(t), rand.Reader).String())
}

// RenderTemplate substitui placeholders {var} pelos valores informados.
func RenderTemplate(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
