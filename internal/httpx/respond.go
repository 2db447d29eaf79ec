package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/ariefcatur/go-marketplace-ledger/internal/pagination"
	"github.com/go-playground/validator/v10"
)

type errorBody struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	UserMessage     string `json:"userMessage,omitempty"`
	SuggestedAction string `json:"suggestedAction,omitempty"`
}

// envelope is the body of every API response.
type envelope struct {
	Success    bool             `json:"success"`
	Data       any              `json:"data,omitempty"`
	Error      *errorBody       `json:"error,omitempty"`
	Pagination *pagination.Page `json:"pagination,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

func writePage(w http.ResponseWriter, data any, page pagination.Page) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Pagination: &page})
}

func writeError(w http.ResponseWriter, err error) {
	e := apperr.From(err)
	msg := e.Message
	if e.Kind == apperr.KindInternal {
		msg = apperr.ErrInternal.Message
	}
	writeJSON(w, apperr.HTTPStatus(e.Kind), envelope{
		Success: false,
		Error: &errorBody{
			Code:            e.Code,
			Message:         msg,
			UserMessage:     e.UserMessage,
			SuggestedAction: e.SuggestedAction,
		},
	})
}

var validate = validator.New()

const maxBody = 1 << 20

// decode reads a JSON body into dst and runs its validate tags.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid json: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return apperr.Validation("%v", err)
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			parts = append(parts, fe.Field()+" must satisfy "+fe.Tag()+"="+fe.Param())
		} else {
			parts = append(parts, fe.Field()+" is "+fe.Tag())
		}
	}
	return apperr.Validation("%s", strings.Join(parts, "; "))
}

func pageParams(r *http.Request) (pagination.Params, error) {
	q := r.URL.Query()
	p := pagination.Params{Cursor: q.Get("cursor")}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return p, apperr.Validation("limit must be a positive integer")
		}
		p.Limit = n
	}
	return p.Normalize(), nil
}
