package rules

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/model"
)

const (
	EventTypeNetwork = "network"
	EventTypeProcess = "process"

	RuleBlocklistedIP  = "network.blocklisted_ip"
	RuleSuspiciousPort = "network.suspicious_port"
	RuleHighCPU        = "process.high_cpu"
	RuleHighMemory     = "process.high_memory"

	categoryNetwork = "network_security"
	categoryProcess = "process_security"
)

var alertNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:sentinel:alert"))

// Evaluate maps events to alerts against one rule set. It has no side effects.
// Params: rs active rule set (nil yields no alerts); events to evaluate.
// Returns: zero or more alerts per event.
func Evaluate(rs *RuleSet, events []model.Event) []model.Alert {
	if rs == nil {
		return nil
	}
	alerts := make([]model.Alert, 0)
	for _, event := range events {
		alerts = append(alerts, evaluateEvent(rs, event)...)
	}
	return alerts
}

func evaluateEvent(rs *RuleSet, event model.Event) []model.Alert {
	switch event.EventType {
	case EventTypeNetwork:
		return evaluateNetwork(rs, event)
	case EventTypeProcess:
		return evaluateProcess(rs, event)
	default:
		return nil
	}
}

// evaluateNetwork checks the remote endpoint against blocklist and suspicious ports.
// Params: rs rule set; event network event.
// Returns: independent blocklist/port alerts.
func evaluateNetwork(rs *RuleSet, event model.Event) []model.Alert {
	remote, _ := event.String("remote_addr")
	host, port, ok := splitRemote(remote)
	if !ok {
		return nil
	}

	var alerts []model.Alert
	if rs.IsBlocklisted(host) {
		alerts = append(alerts, newAlert(rs, event, RuleBlocklistedIP, categoryNetwork,
			"Blocklisted IP detected: "+host, model.SeverityHigh))
	}
	if port > 0 && rs.IsSuspiciousPort(port) {
		alerts = append(alerts, newAlert(rs, event, RuleSuspiciousPort, categoryNetwork,
			"Suspicious network connection pattern detected", model.SeverityMedium))
	}
	return alerts
}

// evaluateProcess checks strict CPU and memory thresholds.
// Params: rs rule set; event process event.
// Returns: independent CPU/memory alerts.
func evaluateProcess(rs *RuleSet, event model.Event) []model.Alert {
	limits := rs.Thresholds()

	var alerts []model.Alert
	if cpu, ok := event.Number("cpu_percent"); ok && cpu > limits.CPUPercent {
		alerts = append(alerts, newAlert(rs, event, RuleHighCPU, categoryProcess,
			"High CPU usage detected: "+strconv.FormatFloat(cpu, 'f', -1, 64)+"%", model.SeverityMedium))
	}
	if mem, ok := event.Number("memory_mb"); ok && mem > limits.MemoryMB {
		alerts = append(alerts, newAlert(rs, event, RuleHighMemory, categoryProcess,
			fmt.Sprintf("High memory usage detected: %.1fMB", mem), model.SeverityMedium))
	}
	return alerts
}

// newAlert builds one alert embedding the source event and the fired rule.
// Params: rs for severity labels; event source; rule id; category; title; severity.
// Returns: alert with a deterministic id.
func newAlert(
	rs *RuleSet,
	event model.Event,
	rule string,
	category string,
	title string,
	severity model.Severity,
) model.Alert {
	return model.Alert{
		ID:       alertID(rule, event),
		Title:    title,
		Severity: severity,
		Details: map[string]any{
			"event_type":     category,
			"event_data":     event.Map(),
			"rule_triggered": rule,
			"severity_label": rs.Label(severity),
			"timestamp":      event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
		CreatedAt: event.CreatedAt,
	}
}

// alertID derives a name-based UUID from rule and event content.
func alertID(rule string, event model.Event) string {
	payload, err := json.Marshal(event)
	if err != nil {
		payload = []byte(fmt.Sprintf("%s|%v|%d", event.EventType, event.Data, event.CreatedAt.UnixNano()))
	}
	name := append([]byte(rule+"\x00"), payload...)
	return uuid.NewSHA1(alertNamespace, name).String()
}

// splitRemote parses "ip:port" or "[ipv6]:port".
// Params: addr remote address text.
// Returns: host, port (0 when not numeric) and false when addr has no port separator.
func splitRemote(addr string) (string, int, bool) {
	if addr == "" {
		return "", 0, false
	}
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return host, 0, true
	}
	return host, port, true
}
