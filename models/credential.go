// ABOUTME: Credential and credential status models for the Google account link
// ABOUTME: Status is what the UI sees; Credential itself never leaves the process
package models

import "time"

// Credential is the persisted OAuth grant plus the identity it belongs to.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scope        string    `json:"scope,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name,omitempty"`
	Picture      string    `json:"picture,omitempty"`
}

// CredentialStatus is the non-secret view of the current credential.
type CredentialStatus struct {
	Connected        bool       `json:"connected"`
	ClientConfigured bool       `json:"clientConfigured"`
	HasRefreshToken  bool       `json:"hasRefreshToken"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	Scope            string     `json:"scope,omitempty"`
	UserEmail        string     `json:"userEmail,omitempty"`
	UserName         string     `json:"userName,omitempty"`
	Picture          string     `json:"picture,omitempty"`
}
