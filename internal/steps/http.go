package steps

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
)

const (
	// Значения по умолчанию.
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Ключи конфигурации HTTP шага.
const (
	configMethod           = "method"
	configURL              = "url"
	configHeaders          = "headers"
	configBody             = "body"
	configFollowRedirects  = "follow_redirects"
	configValidateSSL      = "validate_ssl"
	configAllowErrorStatus = "allow_error_status"
)

// HTTPStep — шаг HTTP запроса.
//
// Выполняет HTTP запрос к внешнему API и возвращает результат.
// Статус вне диапазона 2xx считается ошибкой шага, если не задан
// allow_error_status.
//
// Конфигурация:
//
//	{
//	    "method": "POST",
//	    "url": "https://api.example.com/data",
//	    "headers": {
//	        "Content-Type": "application/json",
//	        "Authorization": "Bearer {{variables.token}}"
//	    },
//	    "body": {
//	        "data": "{{fetch.body.items}}"
//	    },
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "allow_error_status": false
//	}
//
// Outputs:
//
//	{
//	    "status_code": 200,
//	    "headers": {"Content-Type": "application/json", ...},
//	    "body": {...}  // parsed JSON or string
//	}
type HTTPStep struct {
	client *http.Client
}

// NewHTTPStep создаёт новый HTTPStep.
func NewHTTPStep() *HTTPStep {
	return &HTTPStep{
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// Type возвращает тип шага.
func (s *HTTPStep) Type() domain.StepType {
	return domain.StepTypeHTTP
}

// Execute выполняет HTTP запрос.
func (s *HTTPStep) Execute(ctx context.Context, req *Request) (*Result, error) {
	rawConfig, err := resolveConfig(req)
	if err != nil {
		return nil, err
	}

	cfg, err := s.parseConfig(rawConfig)
	if err != nil {
		return nil, err
	}

	client := s.buildClient(cfg, req.Timeout)

	httpReq, err := s.buildRequest(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	result, err := s.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	if !cfg.AllowErrorStatus && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(fmt.Sprintf("%v", result.Output["body"]), 512),
		}
	}

	return result, nil
}

// httpConfig — распарсенная конфигурация HTTP шага.
type httpConfig struct {
	Method           string
	URL              string
	Headers          map[string]string
	Body             any
	FollowRedirects  bool
	ValidateSSL      bool
	AllowErrorStatus bool
}

// parseConfig парсит конфигурацию HTTP шага.
func (s *HTTPStep) parseConfig(config map[string]any) (*httpConfig, error) {
	cfg := &httpConfig{
		Method:           GetConfigString(config, configMethod),
		URL:              GetConfigString(config, configURL),
		Headers:          GetConfigMapString(config, configHeaders),
		Body:             config[configBody],
		FollowRedirects:  GetConfigBool(config, configFollowRedirects, true),
		ValidateSSL:      GetConfigBool(config, configValidateSSL, true),
		AllowErrorStatus: GetConfigBool(config, configAllowErrorStatus, false),
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: http: url is required", ErrInvalidConfig)
	}

	// Метод по умолчанию — GET
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)

	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}

	return cfg, nil
}

// buildClient создаёт HTTP клиент с нужными настройками.
func (s *HTTPStep) buildClient(cfg *httpConfig, reqTimeout time.Duration) *http.Client {
	timeout := defaultHTTPTimeout
	if reqTimeout > 0 {
		timeout = reqTimeout
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: !cfg.ValidateSSL,
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}
}

// buildRequest создаёт HTTP запрос.
func (s *HTTPStep) buildRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	var bodyReader io.Reader

	if cfg.Body != nil {
		bodyBytes, err := s.serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		if _, hasContentType := cfg.Headers["Content-Type"]; !hasContentType {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// serializeBody сериализует body в bytes.
func (s *HTTPStep) serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// parseResponse парсит HTTP ответ в Result.
func (s *HTTPStep) parseResponse(resp *http.Response) (*Result, error) {
	// Читаем body с ограничением размера
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var body any
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			// Если не удалось распарсить JSON, возвращаем как строку
			body = string(bodyBytes)
		}
	} else {
		body = string(bodyBytes)
	}

	headers := make(map[string]string)
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return NewResult(map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}), nil
}

// HTTPError — ошибка HTTP запроса.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// IsHTTPError проверяет, является ли ошибка HTTP ошибкой.
func IsHTTPError(err error) bool {
	_, ok := err.(*HTTPError)
	return ok
}
