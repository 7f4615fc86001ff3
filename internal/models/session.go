package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionDisconnected SessionStatus = "DISCONNECTED"
	SessionConnecting   SessionStatus = "CONNECTING"
	SessionQRPending    SessionStatus = "QR_PENDING"
	SessionConnected    SessionStatus = "CONNECTED"
)

type Session struct {
	ID                 string         `gorm:"primaryKey;size:40" json:"id"`
	CompanyID          string         `gorm:"size:64;not null;index" json:"company_id"`
	Name               string         `gorm:"size:120" json:"name"`
	Status             SessionStatus  `gorm:"size:20;not null" json:"status"`
	QRCode             *string        `gorm:"type:text" json:"qr_code,omitempty"`
	QRGeneratedAt      *time.Time     `json:"qr_generated_at,omitempty"`
	Phone              *string        `gorm:"size:32" json:"phone,omitempty"`
	AIEnabled          bool           `json:"ai_enabled"`
	AIMode             string         `gorm:"size:20" json:"ai_mode"`
	WorkingHours       datatypes.JSON `json:"working_hours,omitempty"`
	IsDefault          bool           `gorm:"index" json:"is_default"`
	AuthState          datatypes.JSON `json:"-"`
	LastError          *string        `gorm:"type:text" json:"last_error,omitempty"`
	LastConnectedAt    *time.Time     `json:"last_connected_at,omitempty"`
	LastDisconnectedAt *time.Time     `json:"last_disconnected_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (Session) TableName() string { return "whatsapp_sessions" }

// AuthState é o blob de credenciais guardado em Session.AuthState.
// Creds são as credenciais raiz; Keys agrupa as chaves por categoria
// (session, pre-key, sender-key, ...) e depois por id.
type AuthState struct {
	Creds json.RawMessage                       `json:"creds,omitempty"`
	Keys  map[string]map[string]json.RawMessage `json:"keys,omitempty"`
}

func ParseAuthState(raw []byte) (*AuthState, error) {
	state := &AuthState{}
	if len(raw) == 0 || string(raw) == "null" {
		return state, nil
	}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (a *AuthState) Empty() bool {
	return len(a.Creds) == 0 && len(a.Keys) == 0
}

func (a *AuthState) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

type authIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// DeviceJID devolve creds.me.id, o JID do dispositivo pareado.
func (a *AuthState) DeviceJID() string {
	if len(a.Creds) == 0 {
		return ""
	}
	var creds struct {
		Me *authIdentity `json:"me"`
	}
	if err := json.Unmarshal(a.Creds, &creds); err != nil || creds.Me == nil {
		return ""
	}
	return creds.Me.ID
}

// SetDevice grava creds.me preservando os demais campos das credenciais.
func (a *AuthState) SetDevice(jid, name string) error {
	creds := map[string]json.RawMessage{}
	if len(a.Creds) > 0 {
		if err := json.Unmarshal(a.Creds, &creds); err != nil {
			return err
		}
	}
	me, err := json.Marshal(authIdentity{ID: jid, Name: name})
	if err != nil {
		return err
	}
	creds["me"] = me
	raw, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	a.Creds = raw
	return nil
}
