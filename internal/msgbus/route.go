package msgbus

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrInvalidRoute    = errors.New("invalid topic route")
	ErrUnsupportedMode = errors.New("unsupported transport mode")
)

// Route says where one subscription topic is published.
type Route struct {
	Publisher string
	Topic     string
	Mode      string
	Address   string
	Secure    bool
}

// ParseRoute resolves a "<publisher>/<topic>" entry using the topic's "<mode>,<host:port>"
// setting from topicConfigs. The tcp modes use TLS unless devMode is set.
func ParseRoute(sub string, topicConfigs map[string]string, devMode bool) (Route, error) {
	parts := strings.Split(sub, "/")
	if len(parts) != 2 {
		return Route{}, fmt.Errorf("%w: %q must be <publisher>/<topic>", ErrInvalidRoute, sub)
	}

	r := Route{
		Publisher: strings.TrimSpace(parts[0]),
		Topic:     strings.TrimSpace(parts[1]),
	}
	if r.Publisher == "" || r.Topic == "" {
		return Route{}, fmt.Errorf("%w: %q has an empty publisher or topic", ErrInvalidRoute, sub)
	}

	raw, ok := topicConfigs[r.Topic]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s_cfg is not set", ErrInvalidRoute, r.Topic)
	}

	modeAddress := strings.SplitN(raw, ",", 2)
	r.Mode = strings.ToLower(strings.TrimSpace(modeAddress[0]))
	if len(modeAddress) == 2 {
		r.Address = strings.TrimSpace(modeAddress[1])
	}

	switch r.Mode {
	case "ws":
	case "wss":
		r.Secure = true
	case "tcp", "zmq_tcp":
		r.Secure = !devMode
	default:
		return Route{}, fmt.Errorf("%w: %q", ErrUnsupportedMode, r.Mode)
	}

	if _, _, err := net.SplitHostPort(r.Address); err != nil {
		return Route{}, fmt.Errorf("%w: %s_cfg address %q: %v", ErrInvalidRoute, r.Topic, r.Address, err)
	}

	return r, nil
}

// URL is the websocket endpoint serving the topic.
func (r Route) URL() string {
	scheme := "ws"
	if r.Secure {
		scheme = "wss"
	}

	u := url.URL{Scheme: scheme, Host: r.Address, Path: "/" + url.PathEscape(r.Topic)}
	return u.String()
}

func (r Route) String() string {
	return r.Publisher + "/" + r.Topic
}
