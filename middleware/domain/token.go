package domain

import "time"

type DisplayMode string

const (
	DisplayInline     DisplayMode = "inline"
	DisplayAttachment DisplayMode = "attachment"
)

func (m DisplayMode) Valid() bool {
	return m == DisplayInline || m == DisplayAttachment
}

// AccessToken é reconstruído a partir da query string; nunca é persistido.
type AccessToken struct {
	ResourceID  string
	ExpiresAt   time.Time
	DisplayMode DisplayMode
	Signature   string
}

// SignedURL é o resultado da emissão de um link.
type SignedURL struct {
	URL         string
	StableURL   string
	DirectURL   string
	ExpiresAt   time.Time
	DisplayMode DisplayMode
}
