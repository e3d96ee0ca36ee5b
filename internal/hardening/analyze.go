package hardening

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	tokens "github.com/dropDatabas3/cancerbero/internal/security/token"
)

// RequestInfo es lo que el analizador mira de un request.
type RequestInfo struct {
	IP        string
	UserAgent string
	Endpoint  string
	BodySize  int64
	Headers   map[string]string
}

// Analysis es el resultado del análisis de un request.
type Analysis struct {
	Fingerprint       string
	SuspiciousAgent   bool
	SuspiciousHeaders []string
	AnomalyScore      float64
	Anomalous         bool
}

// Analyzer calcula huellas de dispositivo y un puntaje de anomalía por IP:
// variedad de user agents recientes y desvío del conteo de headers contra
// el promedio histórico. Historia acotada por IP.
type Analyzer struct {
	suspAgents  []string
	suspHeaders map[string]struct{}
	histSize    int
	threshold   float64

	mu   sync.Mutex
	byIP map[string][]printRecord
}

type printRecord struct {
	userAgent   string
	headerCount int
}

func NewAnalyzer(suspAgents, suspHeaders []string, historySize int, threshold float64) *Analyzer {
	if historySize <= 0 {
		historySize = 50
	}
	if threshold <= 0 {
		threshold = 0.7
	}
	a := &Analyzer{
		suspAgents:  make([]string, 0, len(suspAgents)),
		suspHeaders: make(map[string]struct{}, len(suspHeaders)),
		histSize:    historySize,
		threshold:   threshold,
		byIP:        make(map[string][]printRecord),
	}
	for _, s := range suspAgents {
		a.suspAgents = append(a.suspAgents, strings.ToLower(s))
	}
	for _, h := range suspHeaders {
		a.suspHeaders[http.CanonicalHeaderKey(h)] = struct{}{}
	}
	return a
}

// Fingerprint es la huella canónica del request: ip, user agent, endpoint
// y el tamaño del body por balde, hasheados.
func Fingerprint(ip, userAgent, endpoint string, bodySize int64) string {
	return tokens.SHA256Hex(ip + "|" + userAgent + "|" + endpoint + "|" + bodyBucket(bodySize))
}

func bodyBucket(n int64) string {
	switch {
	case n <= 0:
		return "0"
	case n < 1<<10:
		return "1k"
	case n < 10<<10:
		return "10k"
	case n < 100<<10:
		return "100k"
	default:
		return "big"
	}
}

// Analyze clasifica el request y actualiza la historia de su IP.
func (a *Analyzer) Analyze(req RequestInfo) Analysis {
	out := Analysis{Fingerprint: Fingerprint(req.IP, req.UserAgent, req.Endpoint, req.BodySize)}

	ua := strings.ToLower(req.UserAgent)
	for _, s := range a.suspAgents {
		if strings.Contains(ua, s) {
			out.SuspiciousAgent = true
			break
		}
	}
	for name := range req.Headers {
		if _, ok := a.suspHeaders[http.CanonicalHeaderKey(name)]; ok {
			out.SuspiciousHeaders = append(out.SuspiciousHeaders, http.CanonicalHeaderKey(name))
		}
	}
	sort.Strings(out.SuspiciousHeaders)

	a.mu.Lock()
	hist := a.byIP[req.IP]

	// variedad de agentes: 1 agente = 0, 5 o más = 1
	agents := map[string]struct{}{req.UserAgent: {}}
	for _, r := range hist {
		agents[r.userAgent] = struct{}{}
	}
	variety := float64(len(agents)-1) / 4
	if variety > 1 {
		variety = 1
	}

	// desvío del conteo de headers contra el promedio histórico
	var headerDev float64
	if len(hist) > 0 {
		sum := 0
		for _, r := range hist {
			sum += r.headerCount
		}
		avg := float64(sum) / float64(len(hist))
		base := avg
		if base < 1 {
			base = 1
		}
		headerDev = abs(float64(len(req.Headers))-avg) / base
		if headerDev > 1 {
			headerDev = 1
		}
	}

	hist = append(hist, printRecord{userAgent: req.UserAgent, headerCount: len(req.Headers)})
	if len(hist) > a.histSize {
		hist = hist[len(hist)-a.histSize:]
	}
	a.byIP[req.IP] = hist
	a.mu.Unlock()

	out.AnomalyScore = 0.6*variety + 0.4*headerDev
	out.Anomalous = out.AnomalyScore >= a.threshold
	return out
}

// HistoryLen expone el tamaño de historia de una IP (tests).
func (a *Analyzer) HistoryLen(ip string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byIP[ip])
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
