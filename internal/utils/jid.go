package utils

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// DefaultCountryCode é prefixado em números nacionais de 10 ou 11 dígitos.
var DefaultCountryCode = "55"

// ParseJID aceita um JID completo ("5511999999999@s.whatsapp.net", "1203...@g.us")
// ou apenas o número de telefone.
func ParseJID(recipient string) (types.JID, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return types.JID{}, fmt.Errorf("destinatário vazio")
	}
	if strings.Contains(recipient, "@") {
		return types.ParseJID(recipient)
	}

	digits := onlyDigits(recipient)
	if digits == "" {
		return types.JID{}, fmt.Errorf("destinatário inválido: %s", recipient)
	}
	if len(digits) == 11 || len(digits) == 10 {
		digits = DefaultCountryCode + digits
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// NormalizeRemoteJID devolve a forma canônica usada como chave de conversa.
func NormalizeRemoteJID(recipient string) (string, error) {
	jid, err := ParseJID(recipient)
	if err != nil {
		return "", err
	}
	return jid.ToNonAD().String(), nil
}

// PhoneFromJID extrai a parte de usuário de um JID.
func PhoneFromJID(jid string) string {
	if i := strings.IndexAny(jid, ":@"); i >= 0 {
		return jid[:i]
	}
	return jid
}

func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+types.GroupServer)
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
