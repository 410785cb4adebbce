package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	opusPayloadType = 111
	vp8PayloadType  = 96

	audioClockRate = 48000
	videoClockRate = 90000

	// 20ms of 48kHz audio
	audioFrameSamples = 960
)

// MediaSource owns the local outbound tracks. Every peer session shares
// the same two tracks, so muting is one atomic flag checked at write
// time, not per-peer state.
type MediaSource struct {
	id    string
	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP

	micMuted atomic.Bool
	camOff   atomic.Bool

	mu       sync.Mutex
	audioSeq uint16
	audioTS  uint32
	videoSeq uint16
	videoTS  uint32
}

func NewMediaSource(id string) (*MediaSource, error) {
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   audioClockRate,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		fmt.Sprintf("audio-%s", id),
		fmt.Sprintf("stream-%s", id),
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: videoClockRate,
		},
		fmt.Sprintf("video-%s", id),
		fmt.Sprintf("stream-%s", id),
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	return &MediaSource{id: id, audio: audio, video: video}, nil
}

// Tracks returns the local tracks to attach to a peer connection.
func (m *MediaSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.audio, m.video}
}

func (m *MediaSource) SetMicMuted(v bool)  { m.micMuted.Store(v) }
func (m *MediaSource) MicMuted() bool      { return m.micMuted.Load() }
func (m *MediaSource) SetCameraOff(v bool) { m.camOff.Store(v) }
func (m *MediaSource) CameraOff() bool     { return m.camOff.Load() }

// WriteAudioFrame packetizes one encoded audio frame onto the shared
// track. Frames written while muted are swallowed, which is what makes
// the mute toggle global across peers.
func (m *MediaSource) WriteAudioFrame(payload []byte) error {
	if m.micMuted.Load() {
		return nil
	}
	m.mu.Lock()
	seq, ts := m.audioSeq, m.audioTS
	m.audioSeq++
	m.audioTS += audioFrameSamples
	m.mu.Unlock()

	return m.audio.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
		},
		Payload: payload,
	})
}

// WriteVideoFrame packetizes one encoded video frame. The marker bit is
// set on the last packet of a frame; callers hand in whole frames here.
func (m *MediaSource) WriteVideoFrame(payload []byte, durationTS uint32) error {
	if m.camOff.Load() {
		return nil
	}
	m.mu.Lock()
	seq, ts := m.videoSeq, m.videoTS
	m.videoSeq++
	m.videoTS += durationTS
	m.mu.Unlock()

	return m.video.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    vp8PayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
		},
		Payload: payload,
	})
}

// opusSilence is a minimal Opus DTX-style frame. Enough to keep the
// track alive without a real encoder.
var opusSilence = []byte{0xFC, 0xFF, 0xFE}

// PumpSilence publishes silence frames every 20ms until ctx is done.
// Used by headless clients that have no capture device attached.
func (m *MediaSource) PumpSilence(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.WriteAudioFrame(opusSilence); err != nil {
				return
			}
		}
	}
}
