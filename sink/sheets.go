package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/use-agent/shopscrape/config"
	"github.com/use-agent/shopscrape/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Sheets writes products to a Google spreadsheet and reads the search URLs
// of sheet-driven runs from it.
type Sheets struct {
	svc           *sheets.Service
	spreadsheetID string
	inputRange    string
	outputSheet   string
	mode          string
	baseURL       string
}

// NewSheets authenticates and creates the spreadsheet client. Credentials
// are tried in order: OAuth refresh token, service account key from the
// environment, service account key file.
func NewSheets(ctx context.Context, cfg config.SinkConfig, baseURL string) (*Sheets, error) {
	auth, err := credentials(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := sheets.NewService(ctx, auth)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeSinkFailed, "create sheets client", err)
	}
	return NewSheetsService(svc, cfg, baseURL), nil
}

// NewSheetsService wraps an existing client.
func NewSheetsService(svc *sheets.Service, cfg config.SinkConfig, baseURL string) *Sheets {
	mode := cfg.WriteMode
	if mode != ModeAppend {
		mode = ModeOverwrite
	}
	return &Sheets{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		inputRange:    cfg.InputRange,
		outputSheet:   cfg.OutputSheet,
		mode:          mode,
		baseURL:       baseURL,
	}
}

func credentials(ctx context.Context, cfg config.SinkConfig) (option.ClientOption, error) {
	switch {
	case cfg.OAuthRefreshToken != "":
		slog.Info("sheets auth", "method", "oauth2")
		oc := &oauth2.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.OAuthRedirectURI,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}
		return option.WithTokenSource(oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.OAuthRefreshToken})), nil

	case cfg.ClientEmail != "" && cfg.PrivateKey != "":
		slog.Info("sheets auth", "method", "service_account_env", "project", cfg.ProjectID)
		jc := &jwt.Config{
			Email:      cfg.ClientEmail,
			PrivateKey: []byte(cfg.PrivateKey),
			TokenURL:   google.JWTTokenURL,
			Scopes:     []string{sheets.SpreadsheetsScope},
		}
		return option.WithTokenSource(jc.TokenSource(ctx)), nil

	case cfg.CredentialsFile != "":
		slog.Info("sheets auth", "method", "service_account_file", "path", cfg.CredentialsFile)
		return option.WithCredentialsFile(cfg.CredentialsFile), nil

	default:
		return nil, models.NewScrapeError(
			models.ErrCodeConfigMissing,
			"no Google credentials: set GOOGLE_REFRESH_TOKEN, GOOGLE_CLIENT_EMAIL+GOOGLE_PRIVATE_KEY or GOOGLE_CREDENTIALS_FILE",
			nil,
		)
	}
}

func (s *Sheets) Name() string { return config.SinkSheets }

// URLs reads the input range and keeps the storefront links in it.
func (s *Sheets) URLs(ctx context.Context) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.inputRange).Context(ctx).Do()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeSinkFailed, "read input range", err)
	}

	var cells []string
	for _, row := range resp.Values {
		for _, v := range row {
			if str, ok := v.(string); ok {
				cells = append(cells, str)
			}
		}
	}
	urls := FilterURLs(cells, s.baseURL)
	slog.Info("input urls read", "range", s.inputRange, "cells", len(cells), "urls", len(urls))
	return urls, nil
}

// Write stores records in the target tab, creating it when missing, then
// formats it. Formatting failures are logged and do not fail the write.
func (s *Sheets) Write(ctx context.Context, target string, records []models.ProductRecord) error {
	if target == "" {
		target = s.outputSheet
	}

	sheetID, err := s.ensureTab(ctx, target)
	if err != nil {
		return err
	}

	rows := make([][]interface{}, 0, len(records)+1)
	if s.mode == ModeOverwrite {
		rows = append(rows, cells(Header))
	}
	for _, rec := range records {
		rows = append(rows, cells(Row(rec)))
	}

	vr := &sheets.ValueRange{Values: rows}
	if s.mode == ModeAppend {
		_, err = s.svc.Spreadsheets.Values.Append(s.spreadsheetID, a1(target, "A:A"), vr).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
	} else {
		if _, cerr := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, a1(target, "A:K"), &sheets.ClearValuesRequest{}).Context(ctx).Do(); cerr != nil {
			slog.Warn("clearing sheet failed, overwriting in place", "sheet", target, "error", cerr)
		}
		_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, a1(target, "A1"), vr).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
	}
	if err != nil {
		return models.NewScrapeError(models.ErrCodeSinkFailed, "write products", err)
	}
	slog.Info("products written", "sink", "sheets", "sheet", target, "products", len(records), "mode", s.mode)

	if err := s.format(ctx, sheetID); err != nil {
		slog.Warn("formatting sheet failed", "sheet", target, "error", err)
	}
	return nil
}

// ensureTab returns the id of the named tab, adding it when missing.
func (s *Sheets) ensureTab(ctx context.Context, title string) (int64, error) {
	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, models.NewScrapeError(models.ErrCodeSinkFailed, "read spreadsheet", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return sh.Properties.SheetId, nil
		}
	}

	resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, models.NewScrapeError(models.ErrCodeSinkFailed, fmt.Sprintf("create sheet %q", title), err)
	}
	slog.Info("sheet created", "sheet", title)
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		return resp.Replies[0].AddSheet.Properties.SheetId, nil
	}
	return 0, nil
}

// format emphasizes the header row, sizes the columns and freezes row 1.
func (s *Sheets) format(ctx context.Context, sheetID int64) error {
	white := &sheets.Color{Red: 1, Green: 1, Blue: 1}
	blue := &sheets.Color{Red: 0.2, Green: 0.2, Blue: 0.8}

	_, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 0, EndRowIndex: 1},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							BackgroundColor: blue,
							TextFormat:      &sheets.TextFormat{Bold: true, ForegroundColor: white},
						},
					},
					Fields: "userEnteredFormat(backgroundColor,textFormat)",
				},
			},
			{
				AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
					Dimensions: &sheets.DimensionRange{
						SheetId:    sheetID,
						Dimension:  "COLUMNS",
						StartIndex: 0,
						EndIndex:   int64(len(Header)),
					},
				},
			},
			{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId:        sheetID,
						GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
		},
	}).Context(ctx).Do()
	return err
}

// a1 builds a range reference, quoting the tab title.
func a1(title, ref string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + ref
}

func cells(row []string) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}

var (
	_ Sink   = (*Sheets)(nil)
	_ Source = (*Sheets)(nil)
)
