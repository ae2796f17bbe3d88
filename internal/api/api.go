// Package api is the typed client of the remote shortener API. Every call
// goes through the request pipeline, so errors returned here have already been
// classified and, where needed, reported to the user.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/patric-chuzhbe/flylink/internal/models"
	"github.com/patric-chuzhbe/flylink/internal/pipeline"
)

const (
	loginPath    = "/api/auth/login"
	registerPath = "/api/auth/register"
	urlsPath     = "/api/urls"
)

// ErrValidation wraps request DTOs rejected before dispatch.
var ErrValidation = errors.New("invalid request")

// ErrUnexpectedStatus is returned when a call succeeds with a status other than the documented one.
var ErrUnexpectedStatus = errors.New("unexpected response status")

var shortCodePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Envelope is what each call resolves to.
type Envelope[T any] struct {
	Data    T
	Status  int
	Headers http.Header
}

type Client struct {
	pipeline *pipeline.Pipeline
	validate *validator.Validate
}

func validateShortCode(fieldLevel validator.FieldLevel) bool {
	value := fieldLevel.Field().String()

	return len(value) >= 3 && len(value) <= 50 && shortCodePattern.MatchString(value)
}

func New(p *pipeline.Pipeline) (*Client, error) {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	err := validate.RegisterValidation("shortcode", validateShortCode)
	if err != nil {
		return nil, err
	}

	return &Client{
		pipeline: p,
		validate: validate,
	}, nil
}

func (c *Client) check(req any) error {
	err := c.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	msgs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, errors.New(fieldMessage(fe)))
	}

	return fmt.Errorf("%w: %w", ErrValidation, errors.Join(msgs...))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid e-mail address", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be an absolute URL", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "shortcode":
		return fmt.Sprintf("%s must be 3 to 50 letters, digits, '-' or '_'", fe.Field())
	}

	return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
}

func codePath(code string, suffix ...string) string {
	path := urlsPath + "/" + url.PathEscape(code)
	for _, s := range suffix {
		path += "/" + s
	}

	return path
}

func call[T any](
	ctx context.Context,
	c *Client,
	method, path string,
	body any,
	expected int,
) (*Envelope[T], error) {
	req := c.pipeline.R(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := c.pipeline.Execute(req, method, path)
	if err != nil {
		return nil, err
	}

	env := &Envelope[T]{
		Status:  resp.StatusCode(),
		Headers: resp.Header(),
	}
	if raw := resp.Body(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &env.Data); err != nil {
			return nil, fmt.Errorf("error decoding %s %s response: %w", method, path, err)
		}
	}

	if expected != 0 && env.Status != expected {
		return env, fmt.Errorf("%w: %s %s answered %d, expected %d", ErrUnexpectedStatus, method, path, env.Status, expected)
	}

	return env, nil
}

// Login answers 200 on success. The status is left for the caller to check.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) (*Envelope[models.AuthResponse], error) {
	if err := c.check(req); err != nil {
		return nil, err
	}

	return call[models.AuthResponse](ctx, c, http.MethodPost, loginPath, req, 0)
}

// Register answers 201 on success. The status is left for the caller to check.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*Envelope[models.AuthResponse], error) {
	if err := c.check(req); err != nil {
		return nil, err
	}

	return call[models.AuthResponse](ctx, c, http.MethodPost, registerPath, req, 0)
}

func (c *Client) CreateURL(ctx context.Context, req models.CreateURLRequest) (*Envelope[models.URLResponse], error) {
	if err := c.check(req); err != nil {
		return nil, err
	}

	return call[models.URLResponse](ctx, c, http.MethodPost, urlsPath, req, http.StatusCreated)
}

func (c *Client) GetByCode(ctx context.Context, code string) (*Envelope[models.URLResponse], error) {
	return call[models.URLResponse](ctx, c, http.MethodGet, codePath(code), nil, http.StatusOK)
}

func (c *Client) ListAll(ctx context.Context) (*Envelope[models.URLList], error) {
	return call[models.URLList](ctx, c, http.MethodGet, urlsPath, nil, http.StatusOK)
}

func (c *Client) UpdateURL(ctx context.Context, code string, req models.UpdateURLRequest) (*Envelope[models.URLResponse], error) {
	if err := c.check(req); err != nil {
		return nil, err
	}

	return call[models.URLResponse](ctx, c, http.MethodPut, codePath(code), req, http.StatusOK)
}

func (c *Client) Delete(ctx context.Context, code string) (*Envelope[struct{}], error) {
	return call[struct{}](ctx, c, http.MethodDelete, codePath(code), nil, http.StatusNoContent)
}

func (c *Client) ToggleActive(ctx context.Context, code string) (*Envelope[models.URLResponse], error) {
	return call[models.URLResponse](ctx, c, http.MethodPatch, codePath(code, "toggle"), nil, http.StatusOK)
}
