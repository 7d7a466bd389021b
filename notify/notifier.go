package notify

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// Global debug function for notify package
var debugMsgFunc func(string, string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// alertTopic is the FCM topic all client apps subscribe to
const alertTopic = "alerts"

// DefaultCooldown is the minimum interval between push alerts
const DefaultCooldown = 5 * time.Minute

// Notifier sends occupancy alerts over Firebase Cloud Messaging. When no
// credentials file is available it runs in mock mode: alerts and topic
// operations are logged instead of sent, so the rest of the pipeline behaves
// identically in development.
type Notifier struct {
	client   *messaging.Client
	mockMode bool
	cooldown time.Duration

	mu            sync.Mutex
	lastAlertTime time.Time

	// now is swappable for tests
	now func() time.Time
}

// New creates a Notifier from the credentials file at credPath. A missing or
// unusable file is not an error; it selects mock mode.
func New(ctx context.Context, credPath string, cooldown time.Duration) *Notifier {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	n := &Notifier{cooldown: cooldown, now: time.Now}

	if _, err := os.Stat(credPath); err != nil {
		debugMsg("NOTIFY", fmt.Sprintf("'%s' not found, notifier running in MOCK MODE (logging only)", credPath))
		n.mockMode = true
		return n
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credPath))
	if err != nil {
		debugMsg("NOTIFY", fmt.Sprintf("Failed to initialize Firebase app: %v, falling back to MOCK MODE", err))
		n.mockMode = true
		return n
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		debugMsg("NOTIFY", fmt.Sprintf("Failed to create messaging client: %v, falling back to MOCK MODE", err))
		n.mockMode = true
		return n
	}

	n.client = client
	debugMsg("NOTIFY", "Firebase messaging initialized")
	return n
}

// MockMode reports whether the notifier is logging instead of sending
func (n *Notifier) MockMode() bool {
	return n.mockMode
}

// SendAlert pushes a crowd-limit alert to the alerts topic. At most one alert
// is sent per cooldown window; suppressed calls return sent=false with no
// error. The cooldown clock only advances on a successful (or mock) send.
func (n *Notifier) SendAlert(ctx context.Context, currentCount, threshold int) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if now.Sub(n.lastAlertTime) < n.cooldown {
		return false, nil
	}

	body := fmt.Sprintf("Alert! Count exceeded limit. Current: %d (Limit: %d)", currentCount, threshold)

	if n.mockMode {
		debugMsg("NOTIFY", "[MOCK ALERT] "+body)
		n.lastAlertTime = now
		return true, nil
	}

	msg := &messaging.Message{
		Notification: &messaging.Notification{
			Title: "Crowd Limit Exceeded",
			Body:  body,
		},
		Topic: alertTopic,
	}
	id, err := n.client.Send(ctx, msg)
	if err != nil {
		return false, errors.Wrap(err, "could not send FCM message")
	}
	debugMsg("NOTIFY", "Successfully sent FCM message: "+id)
	n.lastAlertTime = now
	return true, nil
}

// Subscribe adds a client device token to the alerts topic
func (n *Notifier) Subscribe(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("token must not be empty")
	}
	if n.mockMode {
		debugMsg("NOTIFY", fmt.Sprintf("MOCK SUBSCRIPTION: Added %s... to topic '%s'", truncToken(token), alertTopic))
		return nil
	}
	resp, err := n.client.SubscribeToTopic(ctx, []string{token}, alertTopic)
	if err != nil {
		return errors.Wrap(err, "could not subscribe to topic")
	}
	debugMsg("NOTIFY", fmt.Sprintf("Subscribed to topic: %d success, %d failure", resp.SuccessCount, resp.FailureCount))
	if resp.FailureCount > 0 {
		return errors.Errorf("subscription failed for %d token(s)", resp.FailureCount)
	}
	return nil
}

// Unsubscribe removes a client device token from the alerts topic
func (n *Notifier) Unsubscribe(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("token must not be empty")
	}
	if n.mockMode {
		debugMsg("NOTIFY", fmt.Sprintf("MOCK UNSUBSCRIPTION: Removed %s... from topic '%s'", truncToken(token), alertTopic))
		return nil
	}
	resp, err := n.client.UnsubscribeFromTopic(ctx, []string{token}, alertTopic)
	if err != nil {
		return errors.Wrap(err, "could not unsubscribe from topic")
	}
	debugMsg("NOTIFY", fmt.Sprintf("Unsubscribed from topic: %d success, %d failure", resp.SuccessCount, resp.FailureCount))
	if resp.FailureCount > 0 {
		return errors.Errorf("unsubscription failed for %d token(s)", resp.FailureCount)
	}
	return nil
}

func truncToken(token string) string {
	if len(token) > 10 {
		return token[:10]
	}
	return token
}
