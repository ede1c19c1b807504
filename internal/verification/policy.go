package verification

import "github.com/web8kameleon-hub/tokengate/internal/models"

// Policy holds the heuristics used to classify packets and to decide whether
// a pending event can be verified. The presence signals are OR-ed; each one
// can be disabled.
type Policy struct {
	AcceptPresenceFlag     bool
	AcceptWeight           bool
	AcceptVerificationCode bool

	ClassifyByTemperature bool
	ObjectTempMin         float64
	ObjectTempMax         float64

	PlausibleTempMin     float64
	PlausibleTempMax     float64
	PlausibleHumidityMin float64
	PlausibleHumidityMax float64
}

// DefaultPolicy accepts the presence flag and weight, not a bare
// verification code.
func DefaultPolicy() Policy {
	return Policy{
		AcceptPresenceFlag:    true,
		AcceptWeight:          true,
		ClassifyByTemperature: true,
		ObjectTempMin:         15,
		ObjectTempMax:         35,
		PlausibleTempMin:      -40,
		PlausibleTempMax:      85,
		PlausibleHumidityMin:  0,
		PlausibleHumidityMax:  100,
	}
}

// Classify reports whether a packet looks like a physical-presence event.
// Only the presence signals enabled on the policy are considered.
func (p Policy) Classify(pkt models.Packet) bool {
	if p.AcceptPresenceFlag && pkt.PresenceDetected != nil && *pkt.PresenceDetected {
		return true
	}
	if p.AcceptWeight && pkt.Weight != nil && *pkt.Weight > 0 {
		return true
	}
	if p.AcceptVerificationCode && pkt.VerificationCode != "" {
		return true
	}
	if p.ClassifyByTemperature {
		return pkt.Temperature >= p.ObjectTempMin && pkt.Temperature <= p.ObjectTempMax
	}
	return false
}

// Plausible reports whether the sensor readings are physically sane.
func (p Policy) Plausible(s models.SensorSnapshot) bool {
	return s.Temperature >= p.PlausibleTempMin && s.Temperature <= p.PlausibleTempMax &&
		s.Humidity >= p.PlausibleHumidityMin && s.Humidity <= p.PlausibleHumidityMax
}

// PresenceSignal reports whether any enabled presence signal is set.
func (p Policy) PresenceSignal(ev models.TokenEvent) bool {
	switch {
	case p.AcceptPresenceFlag && ev.Sensors.PresenceDetected:
		return true
	case p.AcceptWeight && ev.Sensors.Weight > 0:
		return true
	case p.AcceptVerificationCode && ev.VerificationCode != "":
		return true
	}
	return false
}
