package mqtt

import "fmt"

// defaultBaseTopic is used when config leaves the base topic unset.
const defaultBaseTopic = "hearth"

// Topics builds Hearth topic names under a configurable base.
// Using these helpers keeps topic naming consistent across services.
//
//	topics := mqtt.Topics{Base: cfg.MQTT.BaseTopic}
//	topics.AnnounceRequest() // "hearth/announce/request"
type Topics struct {
	Base string
}

func (t Topics) base() string {
	if t.Base == "" {
		return defaultBaseTopic
	}
	return t.Base
}

// All returns the wildcard covering every Hearth topic.
//
// Example: hearth/#
func (t Topics) All() string {
	return t.base() + "/#"
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: hearth/system/status
func (t Topics) SystemStatus() string {
	return t.base() + "/system/status"
}

// AnnounceRequest returns the topic announcement requests arrive on.
//
// Example: hearth/announce/request
func (t Topics) AnnounceRequest() string {
	return t.base() + "/announce/request"
}

// AnnounceSuppressed returns the topic suppression notices publish to.
//
// Example: hearth/announce/suppressed
func (t Topics) AnnounceSuppressed() string {
	return t.base() + "/announce/suppressed"
}

// ServiceStatus returns the periodic status topic for a named service.
//
// Example: hearth/service/gateway/status
func (t Topics) ServiceStatus(name string) string {
	return fmt.Sprintf("%s/service/%s/status", t.base(), name)
}

// Trigger returns the topic a named schedule trigger publishes to.
//
// Example: hearth/trigger/hourly-chime
func (t Topics) Trigger(name string) string {
	return fmt.Sprintf("%s/trigger/%s", t.base(), name)
}
