/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"crypto/rand"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/watchparty/party"
)

const qrSize = 320

// newRoomID returns a random 8-character room id. Rooms only exist while
// someone is in them, so collisions with a live room are merely joins.
func newRoomID() (string, error) {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	out := make([]byte, len(buf))
	for i := range out {
		out[i] = letters[int(buf[i])%len(letters)]
	}

	return string(out), nil
}

func validRoomID(roomID string) bool {
	return roomID != "" && len([]rune(roomID)) <= party.MaxRoomIDLength && strings.TrimSpace(roomID) == roomID
}

// roomURL rebuilds the public URL of a room page, honoring TLS and
// X-Forwarded-Proto.
func roomURL(cfg *Config, r *http.Request, roomID string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + cfg.prefix + "/room/" + url.PathEscape(roomID)
}

func redirectNewRoom(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := r.URL.Query().Get("room")
		if !validRoomID(roomID) {
			var err error

			roomID, err = newRoomID()
			if err != nil {
				http.Error(w, "unable to create room", http.StatusInternalServerError)

				return
			}
		}

		logf(cfg, "ROOMS: Redirecting %s to room %q", realIP(r), roomID)

		http.Redirect(w, r, cfg.prefix+"/room/"+url.PathEscape(roomID), http.StatusTemporaryRedirect)
	}
}

func serveRoomPage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		roomID := ps.ByName("room")
		if !validRoomID(roomID) {
			http.Error(w, "invalid room id", http.StatusBadRequest)

			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		escaped := html.EscapeString(roomID)
		prefix := html.EscapeString(cfg.prefix)

		var body strings.Builder

		body.WriteString(`<main class="room" id="room" data-room="` + escaped + `" data-prefix="` + prefix + `">`)
		body.WriteString(`<header><h1>` + escaped + `</h1>`)
		body.WriteString(`<img class="qr" alt="Room QR code" src="` + prefix + `/room/` + html.EscapeString(url.PathEscape(roomID)) + `/qr"></header>`)
		body.WriteString(`<section class="player">`)
		body.WriteString(`<form id="source-form"><input id="source" type="url" placeholder="Video URL"><button type="submit">Load</button></form>`)
		body.WriteString(`<video id="video" controls preload="auto"></video>`)
		body.WriteString(`</section>`)
		body.WriteString(`<aside>`)
		body.WriteString(`<form id="join-form"><input id="display-name" placeholder="Display name" maxlength="100"><button type="submit">Join</button></form>`)
		body.WriteString(`<ul id="members"></ul>`)
		body.WriteString(`<div id="announcements"></div>`)
		body.WriteString(`<div id="chat"></div>`)
		body.WriteString(`<form id="chat-form"><input id="chat-input" autocomplete="off" maxlength="` + strconv.Itoa(cfg.maxChatLength) + `"><button type="submit">Send</button></form>`)
		body.WriteString(`<form id="operator-form" hidden><select id="operator-command"><option>announce</option><option>kickall</option><option>ban</option><option>unban</option></select><input id="operator-arg"><button type="submit">Run</button></form>`)
		body.WriteString(`</aside>`)
		body.WriteString(`</main>`)
		body.WriteString(`<script src="` + prefix + `/assets/app.js"></script>`)

		written, err := w.Write([]byte(newPage(cfg, escaped+" - watchparty", body.String())))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Room page %q (%s) to %s in %s",
			roomID,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// serveRoomQR renders the room page URL as a PNG, for sharing from a
// phone.
func serveRoomQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("room")
		if !validRoomID(roomID) {
			http.Error(w, "invalid room id", http.StatusBadRequest)

			return
		}

		png, err := qrcode.Encode(roomURL(cfg, r, roomID), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)

		_, _ = w.Write(png)
	}
}

// registerRooms sets up:
//   - $path          → redirect to ?room= or a new random room
//   - $path/:room    → room page
//   - $path/:room/qr → PNG QR code of the room page
func registerRooms(cfg *Config, path string, mux *httprouter.Router, errs chan<- error) {
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg))
	mux.GET(cfg.prefix+path+"/:room", serveRoomPage(cfg, errs))
	mux.GET(cfg.prefix+path+"/:room/qr", serveRoomQR(cfg))
}
