package google

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"fatura/internal/core"
)

const clientJSON = `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`

func TestNewFromConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing spreadsheet id",
			cfg:     Config{},
			wantErr: "missing spreadsheet id",
		},
		{
			name:    "missing oauth client",
			cfg:     Config{SpreadsheetID: "sheet"},
			wantErr: "missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)",
		},
		{
			name:    "invalid oauth client",
			cfg:     Config{SpreadsheetID: "sheet", OAuthClientJSON: "invalid-json", OAuthTokenJSON: `{"access_token":"x"}`},
			wantErr: "oauth config",
		},
		{
			name:    "missing oauth token",
			cfg:     Config{SpreadsheetID: "sheet", OAuthClientJSON: clientJSON},
			wantErr: "missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)",
		},
		{
			name:    "unreadable token file",
			cfg:     Config{SpreadsheetID: "sheet", OAuthClientJSON: clientJSON, OAuthTokenFile: filepath.Join(os.TempDir(), "does-not-exist-token.json")},
			wantErr: "read oauth token file",
		},
		{
			name:    "invalid token",
			cfg:     Config{SpreadsheetID: "sheet", OAuthClientJSON: clientJSON, OAuthTokenJSON: "{nope"},
			wantErr: "parse oauth token",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromConfig(context.Background(), tt.cfg, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestNewFromConfig_FromFiles(t *testing.T) {
	dir := t.TempDir()
	clientFile := filepath.Join(dir, "client.json")
	tokenFile := filepath.Join(dir, "token.json")
	if err := os.WriteFile(clientFile, []byte(clientJSON), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tokenFile, []byte(`{"access_token":"test","token_type":"Bearer"}`), 0600); err != nil {
		t.Fatal(err)
	}

	c, err := NewFromConfig(context.Background(), Config{
		SpreadsheetID:   "sheet",
		OAuthClientFile: clientFile,
		OAuthTokenFile:  tokenFile,
	}, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if c.sheetName != "Statements" {
		t.Errorf("default sheet name = %q", c.sheetName)
	}
}

func TestJsonUnmarshalIndirection(t *testing.T) {
	var token oauth2.Token
	if err := jsonUnmarshal([]byte(`{"access_token":"test","token_type":"Bearer"}`), &token); err != nil {
		t.Fatalf("jsonUnmarshal failed: %v", err)
	}
	if token.AccessToken != "test" {
		t.Errorf("expected access token 'test', got %s", token.AccessToken)
	}
	if err := jsonUnmarshal([]byte(`{invalid json}`), &token); err == nil {
		t.Fatal("expected error with invalid JSON")
	}
}

func TestAppendStatement_Guards(t *testing.T) {
	c := &Client{spreadsheetID: "test", sheetName: "Statements"}

	if _, err := c.AppendStatement(context.Background(), core.Card{}, core.Invoice{}, nil); err == nil {
		t.Fatal("expected error for missing invoice id")
	}
	_, err := c.AppendStatement(context.Background(), core.Card{}, core.Invoice{ID: "inv-1"}, nil)
	if err == nil || err.Error() != "sheets service not initialized" {
		t.Fatalf("expected uninitialized service error, got %v", err)
	}
}
