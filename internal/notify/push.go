// Package notify transitions donors into the notified state and delivers
// best-effort push alerts.
//
// The state machine is the source of truth: a donor whose conditional
// active → notified write succeeded IS notified, whether or not the push
// gateway managed to reach the device. Push failures are logged and counted,
// never propagated, because a donor watching the live-update channel sees the
// alert regardless.
package notify

import "context"

// PushMessage is one alert for one device.
type PushMessage struct {
	// Token is the device registration token.
	Token string
	Title string
	Body  string
	// Link is the URL the device-side handler opens when the notification
	// is clicked.
	Link string
}

// PushSender delivers alerts to offline devices. Fire-and-forget: the gateway
// exposes no delivery confirmation to the core.
type PushSender interface {
	Send(ctx context.Context, msg PushMessage) error
}

// NopSender discards messages; used when no push gateway is configured.
type NopSender struct{}

func (NopSender) Send(context.Context, PushMessage) error { return nil }
