package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/johndauphine/bizsync/internal/config"
)

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color      string       `json:"color,omitempty"`
	Title      string       `json:"title,omitempty"`
	Text       string       `json:"text,omitempty"`
	Fields     []SlackField `json:"fields,omitempty"`
	Footer     string       `json:"footer,omitempty"`
	FooterIcon string       `json:"footer_icon,omitempty"`
	Timestamp  int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// SyncStarted sends notification when a sync run starts
func (n *Notifier) SyncStarted(runID, accountID string, locationCount int) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":rocket:",
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Title: "Sync Started",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Account", Value: accountID, Short: true},
					{Title: "Locations", Value: fmt.Sprintf("%d", locationCount), Short: true},
				},
				Footer:    "bizsync",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// SyncCompleted sends notification when a run completes cleanly
func (n *Notifier) SyncCompleted(runID string, startTime time.Time, duration time.Duration, locationCount, recordCount int) error {
	if !n.IsEnabled() {
		return nil
	}

	headerText := fmt.Sprintf("Sync completed successfully. Synced %d locations with %s records.",
		locationCount, formatNumberWithCommas(int64(recordCount)))

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":white_check_mark:",
		Text:      headerText,
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Started", Value: startTime.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
					{Title: "Duration", Value: formatDuration(duration), Short: true},
					{Title: "Locations", Value: fmt.Sprintf("%d", locationCount), Short: true},
					{Title: "Records", Value: formatNumberWithCommas(int64(recordCount)), Short: true},
				},
				Footer:    "bizsync",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// SyncCompletedWithErrors sends notification when a run finishes with failures
func (n *Notifier) SyncCompletedWithErrors(runID string, startTime time.Time, duration time.Duration,
	processed, failed, recordCount int, failures []string) error {
	if !n.IsEnabled() {
		return nil
	}

	// Build failure summary
	failureSummary := ""
	if len(failures) > 0 {
		if len(failures) <= 5 {
			failureSummary = failures[0]
			for i := 1; i < len(failures); i++ {
				failureSummary += ", " + failures[i]
			}
		} else {
			failureSummary = fmt.Sprintf("%s, %s, %s... and %d more",
				failures[0], failures[1], failures[2], len(failures)-3)
		}
	}

	headerText := fmt.Sprintf("Sync completed with errors. %d locations succeeded, %d failed. Persisted %s records.",
		processed, failed, formatNumberWithCommas(int64(recordCount)))

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":warning:",
		Text:      headerText,
		Attachments: []SlackAttachment{
			{
				Color: "#ffc107", // yellow/orange
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Started", Value: startTime.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
					{Title: "Duration", Value: formatDuration(duration), Short: true},
					{Title: "Succeeded", Value: fmt.Sprintf("%d locations", processed), Short: true},
					{Title: "Failed", Value: fmt.Sprintf("%d locations", failed), Short: true},
					{Title: "Records", Value: formatNumberWithCommas(int64(recordCount)), Short: true},
					{Title: "Errors", Value: failureSummary, Short: false},
				},
				Footer:    "bizsync",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// SyncFailed sends notification when a run cannot proceed
func (n *Notifier) SyncFailed(runID string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{
			{
				Color: "#dc3545", // red
				Title: "Sync Failed",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
					{Title: "Error", Value: errMsg, Short: false},
				},
				Footer:    "bizsync",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// LocationSyncFailed sends notification for an individual location failure
func (n *Notifier) LocationSyncFailed(runID, locationID string, err error) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":warning:",
		Attachments: []SlackAttachment{
			{
				Color: "#ffc107", // yellow
				Title: "Location Sync Failed",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Location", Value: locationID, Short: true},
					{Title: "Error", Value: errMsg, Short: false},
				},
				Footer:    "bizsync",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return "bizsync"
}

func formatNumberWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result []byte
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
