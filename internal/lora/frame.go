// Package lora wraps encoded telemetry lines in LoRaWAN 1.0 uplink frames so
// they can be pushed through a LoRa modem or replayed into a network server.
package lora

import (
	"errors"
	"fmt"
	"sync"

	"TransitFleet/internal/model"
	"TransitFleet/internal/parser"

	"github.com/brocaar/lorawan"
)

// ErrInvalidMIC is returned when a frame fails message integrity checking.
var ErrInvalidMIC = errors.New("lora: invalid MIC")

// Session holds the ABP session parameters of one end device.
type Session struct {
	DevAddr lorawan.DevAddr
	NwkSKey lorawan.AES128Key
	AppSKey lorawan.AES128Key
	FPort   uint8
}

// ParseSession decodes hex-encoded session parameters.
func ParseSession(devAddr, nwkSKey, appSKey string, fport uint8) (Session, error) {
	var s Session
	if err := s.DevAddr.UnmarshalText([]byte(devAddr)); err != nil {
		return Session{}, fmt.Errorf("dev_addr: %w", err)
	}
	if err := s.NwkSKey.UnmarshalText([]byte(nwkSKey)); err != nil {
		return Session{}, fmt.Errorf("nwk_skey: %w", err)
	}
	if err := s.AppSKey.UnmarshalText([]byte(appSKey)); err != nil {
		return Session{}, fmt.Errorf("app_skey: %w", err)
	}
	if fport == 0 {
		return Session{}, errors.New("fport 0 is reserved for MAC commands")
	}
	s.FPort = fport
	return s, nil
}

// Framer is a parser.Parser that frames the lines of an inner parser as
// base64 LoRaWAN unconfirmed uplinks. The frame counter increases with
// every encoded line and wraps at 16 bits, the width FHDR carries on the
// wire, so the receiver always validates the MIC against the same value.
type Framer struct {
	inner   parser.Parser
	session Session

	mu   sync.Mutex
	fcnt uint16
}

var _ parser.Parser = (*Framer)(nil)

// NewFramer wraps inner with the given session.
func NewFramer(inner parser.Parser, s Session) *Framer {
	return &Framer{inner: inner, session: s}
}

// FCnt returns the counter the next frame will carry.
func (f *Framer) FCnt() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint32(f.fcnt)
}

// EncodeTelemetry encodes v with the inner parser and frames the result.
func (f *Framer) EncodeTelemetry(v model.VehicleData) (string, error) {
	line, err := f.inner.EncodeTelemetry(v)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	fcnt := f.fcnt
	f.fcnt++
	f.mu.Unlock()

	b, err := f.encode([]byte(line), fcnt)
	if err != nil {
		return "", fmt.Errorf("lora: frame: %w", err)
	}
	return string(b), nil
}

func (f *Framer) encode(data []byte, fcnt uint16) ([]byte, error) {
	fport := f.session.FPort
	phy := lorawan.PHYPayload{
		MHDR: lorawan.MHDR{
			MType: lorawan.UnconfirmedDataUp,
			Major: lorawan.LoRaWANR1,
		},
		MACPayload: &lorawan.MACPayload{
			FHDR: lorawan.FHDR{
				DevAddr: f.session.DevAddr,
				FCnt:    uint32(fcnt),
			},
			FPort:      &fport,
			FRMPayload: []lorawan.Payload{&lorawan.DataPayload{Bytes: data}},
		},
	}
	if err := phy.EncryptFRMPayload(f.session.AppSKey); err != nil {
		return nil, err
	}
	if err := phy.SetUplinkDataMIC(lorawan.LoRaWAN1_0, 0, 0, 0, f.session.NwkSKey, f.session.NwkSKey); err != nil {
		return nil, err
	}
	return phy.MarshalText()
}

// DecodeTelemetry checks and decrypts a frame, then decodes the inner line.
func (f *Framer) DecodeTelemetry(frame string) (model.VehicleData, error) {
	data, err := f.Unframe(frame)
	if err != nil {
		return model.VehicleData{}, err
	}
	return f.inner.DecodeTelemetry(string(data))
}

// Unframe validates the MIC and returns the decrypted application payload.
func (f *Framer) Unframe(frame string) ([]byte, error) {
	var phy lorawan.PHYPayload
	if err := phy.UnmarshalText([]byte(frame)); err != nil {
		return nil, fmt.Errorf("lora: unmarshal: %w", err)
	}
	ok, err := phy.ValidateUplinkDataMIC(lorawan.LoRaWAN1_0, 0, 0, 0, f.session.NwkSKey, f.session.NwkSKey)
	if err != nil {
		return nil, fmt.Errorf("lora: mic: %w", err)
	}
	if !ok {
		return nil, ErrInvalidMIC
	}
	mac, ok := phy.MACPayload.(*lorawan.MACPayload)
	if !ok {
		return nil, errors.New("lora: not a data frame")
	}
	if mac.FHDR.DevAddr != f.session.DevAddr {
		return nil, fmt.Errorf("lora: frame from %s, want %s", mac.FHDR.DevAddr, f.session.DevAddr)
	}
	if err := phy.DecryptFRMPayload(f.session.AppSKey); err != nil {
		return nil, fmt.Errorf("lora: decrypt: %w", err)
	}
	if len(mac.FRMPayload) != 1 {
		return nil, errors.New("lora: empty payload")
	}
	dp, ok := mac.FRMPayload[0].(*lorawan.DataPayload)
	if !ok {
		return nil, errors.New("lora: unexpected payload type")
	}
	return dp.Bytes, nil
}
