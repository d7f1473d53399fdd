package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/OFFIS-RIT/regnet/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// OllamaClient implements ai.Client against a local or hosted Ollama server.
type OllamaClient struct {
	embeddingModel string
	narrativeModel string

	timeoutMin int
	reqLock    *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewOllamaClientParams contains configuration options for NewOllamaClient.
type NewOllamaClientParams struct {
	EmbeddingModel string
	NarrativeModel string

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	TimeoutMin            int
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewOllamaClient connects to the Ollama server at BaseURL, or the library
// default when empty.
func NewOllamaClient(params NewOllamaClientParams) (*OllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	concurrent := params.MaxConcurrentRequests
	if concurrent <= 0 {
		concurrent = 2
	}
	timeout := params.TimeoutMin
	if timeout <= 0 {
		timeout = 5
	}

	return &OllamaClient{
		embeddingModel: params.EmbeddingModel,
		narrativeModel: params.NarrativeModel,

		timeoutMin: timeout,
		reqLock:    semaphore.NewWeighted(concurrent),

		Client: api.NewClient(u, httpClient),
	}, nil
}

var _ ai.Client = (*OllamaClient)(nil)
