package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
)

const (
	DefaultBitableBaseURL = "https://open.feishu.cn"
	fieldPageSize         = 100
	recordPageSize        = 500
)

// BitableService reads and writes a Bitable-style table over its open API.
type BitableService struct {
	api  *APIService
	auth Authorizer
	opts ClientOpts
}

// NewBitableService creates a table client. api should be rooted at the store host, e.g. https://open.feishu.cn.
func NewBitableService(api *APIService, auth Authorizer, opts ClientOpts) *BitableService {
	return &BitableService{api: api, auth: auth, opts: opts.withDefaults()}
}

type bitableField struct {
	FieldID   string `json:"field_id,omitempty"`
	FieldName string `json:"field_name"`
	Type      int    `json:"type"`
}

func (f bitableField) model() models.TableField {
	return models.TableField{ID: f.FieldID, Name: f.FieldName, Type: models.FieldTypeFromCode(f.Type)}
}

type bitableRecord struct {
	RecordID string         `json:"record_id,omitempty"`
	Fields   map[string]any `json:"fields"`
}

type page[T any] struct {
	Items     []T    `json:"items"`
	HasMore   bool   `json:"has_more"`
	PageToken string `json:"page_token"`
	Total     int    `json:"total"`
}

func tablePath(t models.Target, suffix string) string {
	return fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s%s", url.PathEscape(t.AppToken), url.PathEscape(t.TableID), suffix)
}

// call runs one authorized request and decodes the envelope data into v when v is non-nil.
func (s *BitableService) call(ctx context.Context, method, path string, body, v any) error {
	return s.auth.Do(ctx, func(ctx context.Context, token string) error {
		resp, err := s.api.Do(ctx, Request{Method: method, Path: path, Token: token, Body: body})
		if err != nil {
			return fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, transportError(err))
		}
		env, err := decodeEnvelope(resp, shared.ErrRecordNotFound, shared.ErrAPIRequest)
		if err != nil {
			return err
		}
		if v == nil {
			return nil
		}
		return decodeData(env, v)
	})
}

// ListFields returns every field of the target table, following pagination.
func (s *BitableService) ListFields(ctx context.Context, target models.Target) ([]models.TableField, error) {
	var fields []models.TableField
	token := ""
	for {
		q := url.Values{"page_size": {fmt.Sprint(fieldPageSize)}}
		if token != "" {
			q.Set("page_token", token)
		}

		var p page[bitableField]
		if err := s.call(ctx, http.MethodGet, tablePath(target, "/fields?"+q.Encode()), nil, &p); err != nil {
			return nil, fmt.Errorf("failed to list fields: %w", err)
		}
		for _, f := range p.Items {
			fields = append(fields, f.model())
		}
		if !p.HasMore || p.PageToken == "" {
			break
		}
		token = p.PageToken
	}

	s.opts.Logger.Debug("listed fields", "target", target.Key(), "count", len(fields))
	return fields, nil
}

// CreateField adds a field. A name clash is reported as [shared.ErrFieldConflict].
func (s *BitableService) CreateField(ctx context.Context, target models.Target, name string, typ models.FieldType) (models.TableField, error) {
	var data struct {
		Field bitableField `json:"field"`
	}
	body := bitableField{FieldName: name, Type: typ.Code()}

	err := s.call(ctx, http.MethodPost, tablePath(target, "/fields"), body, &data)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && isConflict(apiErr.Message) {
			return models.TableField{}, fmt.Errorf("%w: %q: %w", shared.ErrFieldConflict, name, err)
		}
		return models.TableField{}, fmt.Errorf("failed to create field %q: %w", name, err)
	}
	if data.Field.FieldID == "" {
		return models.TableField{}, fmt.Errorf("%w: create field response has no field id", shared.ErrProtocol)
	}

	s.opts.Logger.Info("created field", "target", target.Key(), "field", name, "type", typ)
	return data.Field.model(), nil
}

func isConflict(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{"exist", "repeat", "duplicate"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ListRecords returns every record of the target table.
func (s *BitableService) ListRecords(ctx context.Context, target models.Target) ([]models.TableRecord, error) {
	var records []models.TableRecord
	token := ""
	for {
		q := url.Values{"page_size": {fmt.Sprint(recordPageSize)}}
		if token != "" {
			q.Set("page_token", token)
		}

		var p page[bitableRecord]
		if err := s.call(ctx, http.MethodGet, tablePath(target, "/records?"+q.Encode()), nil, &p); err != nil {
			return nil, fmt.Errorf("failed to list records: %w", err)
		}
		for _, r := range p.Items {
			records = append(records, models.TableRecord{ID: r.RecordID, Fields: r.Fields})
		}
		if !p.HasMore || p.PageToken == "" {
			break
		}
		token = p.PageToken
	}
	return records, nil
}

// BatchCreate inserts records and returns them with their new ids, in input order.
//
// The store has accepted the batch once this returns without error, even when it echoes fewer records than
// were sent.
func (s *BitableService) BatchCreate(ctx context.Context, target models.Target, records []models.TableRecord) ([]models.TableRecord, error) {
	body := struct {
		Records []bitableRecord `json:"records"`
	}{Records: make([]bitableRecord, len(records))}
	for i, r := range records {
		body.Records[i] = bitableRecord{Fields: r.Fields}
	}
	return s.batch(ctx, target, "/records/batch_create", body, len(records))
}

// BatchUpdate writes fields into existing records by id.
func (s *BitableService) BatchUpdate(ctx context.Context, target models.Target, records []models.TableRecord) ([]models.TableRecord, error) {
	body := struct {
		Records []bitableRecord `json:"records"`
	}{Records: make([]bitableRecord, len(records))}
	for i, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: record %d has no id", shared.ErrInvalidInput, i)
		}
		body.Records[i] = bitableRecord{RecordID: r.ID, Fields: r.Fields}
	}
	return s.batch(ctx, target, "/records/batch_update", body, len(records))
}

func (s *BitableService) batch(ctx context.Context, target models.Target, suffix string, body any, want int) ([]models.TableRecord, error) {
	var data struct {
		Records []bitableRecord `json:"records"`
	}
	if err := s.call(ctx, http.MethodPost, tablePath(target, suffix), body, &data); err != nil {
		return nil, err
	}
	if len(data.Records) != want {
		s.opts.Logger.Warn("store echoed a different record count", "target", target.Key(), "sent", want, "returned", len(data.Records))
	}

	out := make([]models.TableRecord, len(data.Records))
	for i, r := range data.Records {
		out[i] = models.TableRecord{ID: r.RecordID, Fields: r.Fields}
	}
	return out, nil
}
