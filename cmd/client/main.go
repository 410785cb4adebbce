// Headless room client: joins a lesson room, publishes a synthetic audio
// track and prints presence and chat to the log. Useful for manual
// testing against a running server and as a reference wiring of the
// client package.
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dchirkin/lessonlive/internal/client"
	"github.com/dchirkin/lessonlive/internal/domain"
	"github.com/dchirkin/lessonlive/internal/relay"
)

func main() {
	var (
		serverURL     = flag.String("server", "ws://localhost:8080/api/ws/live", "relay websocket URL")
		roomID        = flag.String("room", "", "lesson id to join")
		displayName   = flag.String("name", "guest", "display name")
		participantID = flag.String("participant", "", "participant id (defaults to a fresh uuid)")
		owner         = flag.Bool("owner", false, "join as the session owner")
		silence       = flag.Bool("silence", true, "publish a synthetic audio track")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *roomID == "" {
		log.Fatal().Msg("missing -room")
	}
	if *participantID == "" {
		*participantID = uuid.NewString()
	}
	role := domain.RoleParticipant
	if *owner {
		role = domain.RoleOwner
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var media *client.MediaSource
	if *silence {
		var err error
		media, err = client.NewMediaSource(*participantID)
		if err != nil {
			// Not fatal: join for chat and presence only.
			log.Warn().Err(err).Msg("no local media, joining without a stream")
		}
	}

	events := client.Events{
		OnPresence: func(entries []client.Entry) {
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.DisplayName)
			}
			log.Info().Strs("occupants", names).Msg("presence")
		},
		OnChat: func(m domain.ChatMessage) {
			log.Info().Str("from", m.SenderName).Time("at", m.SentAt).Msg(m.Text)
		},
		OnRemoteTrack: func(remote relay.ConnID, track *webrtc.TrackRemote) {
			log.Info().Str("remote", string(remote)).Str("kind", track.Kind().String()).Msg("remote stream up")
			go drainTrack(track)
		},
		OnSessionEnded: func(endedBy string) {
			log.Info().Str("ended_by", endedBy).Msg("session ended")
			cancel()
		},
		OnError: func(reason string) {
			log.Error().Str("reason", reason).Msg("relay refused")
			cancel()
		},
	}

	c := client.NewClient(*serverURL, relay.JoinRoom{
		RoomID:        domain.RoomID(*roomID),
		ParticipantID: domain.ParticipantID(*participantID),
		DisplayName:   *displayName,
		Role:          role,
	}, media, nil, events)

	if err := c.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer c.Leave()

	if media != nil {
		go media.PumpSilence(ctx)
	}

	// stdin lines become chat; "/end" asks the relay to end the session.
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if line == "/end" {
				if err := c.EndSession(); err != nil {
					log.Error().Err(err).Msg("end session")
				}
				continue
			}
			if err := c.SendChat(line); err != nil {
				log.Error().Err(err).Msg("send chat")
			}
		}
	}()

	<-ctx.Done()
}

func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
