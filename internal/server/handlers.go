// Package server exposes HTTP handlers, including WebSocket upgrades, file
// upload and download, health checks, and the built-in test page.
package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	nanoid "github.com/jaevor/go-nanoid"

	"github.com/Tyrowin/flyshare/internal/coordinator"
	"github.com/Tyrowin/flyshare/internal/filestore"
)

// multipartOverhead is the allowance on top of MaxUploadSize for the
// multipart envelope and the other form fields.
const multipartOverhead = 1 << 20

// Server holds the relay's HTTP-facing dependencies.
type Server struct {
	cfg      Config
	coord    *coordinator.Coordinator
	files    *filestore.Store
	hub      *Hub
	origins  originPolicy
	upgrader websocket.Upgrader
	newID    func() string
}

// New creates a server around coord and files. The coordinator's Run loop
// must be started by the caller.
func New(cfg Config, coord *coordinator.Coordinator, files *filestore.Store) (*Server, error) {
	cfg = cfg.Sanitize()

	newID, err := nanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("create connection id generator: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		coord:   coord,
		files:   files,
		hub:     NewHub(coord),
		origins: newOriginPolicy(cfg.AllowedOrigins),
		newID:   newID,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s, nil
}

// Hub returns the server's client hub.
func (s *Server) Hub() *Hub { return s.hub }

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config { return s.cfg }

// WebSocketHandler upgrades the request, places the connection in the room
// for its network, and starts the client's pumps.
func (s *Server) WebSocketHandler(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	roomID := requestNetworkID(c.Request, s.cfg.TrustProxy)
	client := NewClient(conn, s.hub, s.newID(), roomID, c.Request.RemoteAddr, s.cfg)

	if err := s.hub.Attach(client); err != nil {
		log.Printf("Rejected connection from %s: %v", c.Request.RemoteAddr, err)
		if closeErr := conn.Close(); closeErr != nil && !isExpectedCloseError(closeErr) {
			log.Printf("Error closing rejected connection: %v", closeErr)
		}
	}
}

// HealthHandler responds with a plain text message indicating the server is running.
func (s *Server) HealthHandler(c *gin.Context) {
	c.String(http.StatusOK, "FlyShare server is running!")
}

// StatusHandler reports connection and room counts.
func (s *Server) StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": s.coord.Registry().Len(),
		"rooms":       s.coord.Rooms().Len(),
	})
}

// NetworkHandler tells a client which room its address maps to, so the
// upload form can send it along.
func (s *Server) NetworkHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"room": requestNetworkID(c.Request, s.cfg.TrustProxy)})
}

// UploadHandler stores a multipart upload and announces it to the
// uploader's room (POST /upload).
func (s *Server) UploadHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadSize+multipartOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "No file provided",
			"details": err.Error(),
		})
		return
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
		return
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			log.Printf("Error closing upload %q: %v", header.Filename, closeErr)
		}
	}()

	roomID := strings.TrimSpace(c.PostForm("networkId"))
	if roomID == "" {
		roomID = requestNetworkID(c.Request, s.cfg.TrustProxy)
	}
	sender := strings.TrimSpace(c.PostForm("sender"))
	if sender == "" {
		sender = coordinator.AnonymousSender
	}

	stored, err := s.files.Save(c.Request.Context(), header.Filename, src, header.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		log.Printf("Error storing upload %q: %v", header.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}

	record := coordinator.FileShareRecord{
		FileID:      stored.FileID,
		DisplayName: stored.DisplayName,
		StorageName: stored.StorageName,
		Size:        stored.Size,
		MIMEType:    stored.ContentType,
		Sender:      sender,
		UploadedAt:  stored.StoredAt,
	}

	err = s.hub.dispatch(c.Request.Context(), coordinator.ShareFile{RoomID: roomID, Record: record})
	if errors.Is(err, coordinator.ErrStopped) {
		// No room state will ever list this file, so do not keep its bytes.
		if rmErr := s.files.Remove(record.StorageName); rmErr != nil {
			log.Printf("Error removing unannounced file %s: %v", record.StorageName, rmErr)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is shutting down"})
		return
	}
	if err != nil && !errors.Is(err, coordinator.ErrRoomNotFound) {
		log.Printf("Error announcing file %s: %v", record.FileID, err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"file":      record,
		"networkId": roomID,
		"announced": err == nil,
	})
}

// NetworkFilesHandler lists the files shared in a room
// (GET /network-files/:networkId).
func (s *Server) NetworkFilesHandler(c *gin.Context) {
	files := s.coord.ListFiles(c.Param("networkId"))
	if files == nil {
		files = []coordinator.FileShareRecord{}
	}
	c.JSON(http.StatusOK, files)
}

// DownloadHandler serves a stored file as an attachment
// (GET /files/:storageName).
func (s *Server) DownloadHandler(c *gin.Context) {
	storageName := c.Param("storageName")

	path, err := s.files.Path(storageName)
	if err != nil {
		switch {
		case errors.Is(err, filestore.ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file name"})
		case errors.Is(err, filestore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		default:
			log.Printf("Error resolving file %q: %v", storageName, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
		}
		return
	}

	displayName := strings.NewReplacer("\"", "", "\n", "", "\r", "").Replace(filestore.DisplayName(storageName))
	c.Header("Content-Type", filestore.ContentTypeFor(displayName))
	c.FileAttachment(path, displayName)
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

// TestPageHandler serves an HTML page for trying out the relay from a
// browser: register a device, send messages, and upload files.
func (s *Server) TestPageHandler(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(testPageHTML))
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>FlyShare Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 240px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>FlyShare Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="deviceName" placeholder="Device name">
        <button onclick="registerDevice()">Register</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
    </div>
    <div style="margin-top: 10px">
        <input type="file" id="fileInput">
        <button onclick="uploadFile()">Upload</button>
    </div>
    <div id="log"></div>

    <script>
        let ws = null;
        let room = '';
        let deviceName = '';
        const logDiv = document.getElementById('log');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function addLine(text) {
            const line = document.createElement('div');
            line.textContent = text;
            logDiv.appendChild(line);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected to ' + room : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ event: event, data: data }));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onmessage = function(event) {
                const frame = JSON.parse(event.data);
                if (frame.event === 'welcome') {
                    room = frame.data.room;
                    updateStatus(true);
                }
                addLine(frame.event + ': ' + JSON.stringify(frame.data));
            };
            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws) { ws.close(); } else { connect(); }
        }

        function registerDevice() {
            deviceName = document.getElementById('deviceName').value.trim();
            send('register_device', { name: deviceName, type: 'desktop' });
        }

        function sendMessage() {
            const input = document.getElementById('messageInput');
            const text = input.value.trim();
            if (!text) { return; }
            send('send_message', { room: room, message: { text: text, time: new Date().toISOString(), device: deviceName } });
            input.value = '';
        }

        function uploadFile() {
            const file = document.getElementById('fileInput').files[0];
            if (!file) { return; }
            const form = new FormData();
            form.append('file', file);
            form.append('networkId', room);
            form.append('sender', deviceName);
            fetch('/upload', { method: 'POST', body: form })
                .then(function(res) { return res.json(); })
                .then(function(body) { addLine('upload: ' + JSON.stringify(body)); });
        }
    </script>
</body>
</html>`
