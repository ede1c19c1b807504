// Package models provides data models shared by the tokengate pipeline.
package models

import "time"

// Location is an optional geolocation reported by a node or token event.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Altitude  float64 `json:"altitude,omitempty"`
}

// Dimensions of a physical object in millimetres.
type Dimensions struct {
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Thickness float64 `json:"thickness"`
}

// Packet is a single inbound radio telemetry packet.
type Packet struct {
	SourceID         string      `json:"source_id"`
	Timestamp        time.Time   `json:"timestamp,omitempty"`
	Temperature      float64     `json:"temperature"`
	Humidity         float64     `json:"humidity"`
	RSSI             float64     `json:"rssi"`
	SNR              float64     `json:"snr,omitempty"`
	Battery          float64     `json:"battery"`
	PresenceDetected *bool       `json:"presence_detected,omitempty"`
	Weight           *float64    `json:"weight,omitempty"`
	VerificationCode string      `json:"verification_code,omitempty"`
	Location         *Location   `json:"location,omitempty"`
	Dimensions       *Dimensions `json:"dimensions,omitempty"`
}

// Node is a telemetry source tracked by the node registry.
type Node struct {
	ID          string    `json:"id"`
	LastSeen    time.Time `json:"last_seen"`
	RSSI        float64   `json:"rssi"`
	SNR         float64   `json:"snr"`
	Battery     float64   `json:"battery"`
	Location    *Location `json:"location,omitempty"`
	PacketCount int64     `json:"packet_count"`
}
