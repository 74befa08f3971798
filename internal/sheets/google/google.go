package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fatura/internal/core"
	"fatura/internal/log"
	ports "fatura/internal/sheets"
)

// Config selects the spreadsheet and the OAuth material. Either the file or
// the inline JSON form of each credential is enough.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	OAuthClientFile string
	OAuthClientJSON string
	OAuthTokenFile  string
	OAuthTokenJSON  string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger
}

var _ ports.StatementWriter = (*Client)(nil)

// indirection for tests
var jsonUnmarshal = json.Unmarshal

func NewFromConfig(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if logger == nil {
		logger = log.Discard()
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = "Statements"
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
		logger:        logger.WithComponent(log.ComponentSheets),
	}, nil
}

func credential(inline, file, what, hint string) ([]byte, error) {
	switch {
	case strings.TrimSpace(inline) != "":
		return []byte(inline), nil
	case strings.TrimSpace(file) != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s file: %w", what, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("missing %s (set %s)", what, hint)
	}
}

// OAuthConfig parses the OAuth client definition with the spreadsheet scope.
func OAuthConfig(cfg Config) (*oauth2.Config, error) {
	b, err := credential(cfg.OAuthClientJSON, cfg.OAuthClientFile, "oauth client", "GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")
	if err != nil {
		return nil, err
	}
	oc, err := oauthgoogle.ConfigFromJSON(b, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	return oc, nil
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	oc, err := OAuthConfig(cfg)
	if err != nil {
		return nil, err
	}
	tb, err := credential(cfg.OAuthTokenJSON, cfg.OAuthTokenFile, "oauth token", "GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE")
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := jsonUnmarshal(tb, &tok); err != nil {
		return nil, fmt.Errorf("parse oauth token: %w", err)
	}

	// oauth2 picks the base transport up from the context
	ctx = context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(oc.Client(ctx, &tok)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// AppendStatement appends the statement block below the last used row.
func (c *Client) AppendStatement(ctx context.Context, card core.Card, inv core.Invoice, items []core.InvoiceItem) (string, error) {
	if inv.ID == "" {
		return "", errors.New("statement without invoice id")
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	vr := &gsheet.ValueRange{Values: ports.StatementRows(card, inv, items)}
	rng := fmt.Sprintf("%s!A:F", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append statement to %s: %w", c.sheetName, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.InfoContext(ctx, "Statement exported",
		log.FieldInvoiceID, inv.ID,
		log.FieldSheetsRef, ref,
		"rows", len(vr.Values))
	return ref, nil
}
