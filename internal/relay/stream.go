package relay

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// downstreamBuffer bounds the hand-off between the blocking target reader
// and the websocket writer. When the client is slow the buffer fills and the
// target read blocks: chunks are never dropped and arrival order is
// preserved.
const downstreamBuffer = 64

// stream runs both data paths until either side ends, then tears everything
// down. The target reader runs on its own goroutine because the transport
// read blocks; closing the target unblocks it, so no goroutine outlives the
// connection.
func (s *Server) stream(conn *websocket.Conn, tgt *target, rec *recorder) {
	out := make(chan []byte, downstreamBuffer)
	done := make(chan struct{})
	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			close(done)
			tgt.close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Downstream: target -> transcript -> client. Closing out at target EOF
	// hands the writer everything still buffered; done only cuts the reader
	// loose when the client side has already failed.
	go func() {
		defer wg.Done()
		defer close(out)
		buf := make([]byte, 4096)
		for {
			n, err := tgt.stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if err := rec.AppendTranscript(s.now(), chunk); err != nil {
					log.Printf("relay transcript write failed: %v", err)
				}
				select {
				case out <- chunk:
				case <-done:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Writer: drains the hand-off onto the client channel, including the
	// tail buffered when the target hangs up. Every chunk the reader queued
	// is forwarded or the connection is torn down, never silently skipped.
	go func() {
		defer wg.Done()
		defer shutdown()
		for chunk := range out {
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		}
	}()

	// Upstream: client -> target, with the same bytes fed to the command
	// parser. Control sequences pass through verbatim.
	asm := &lineAssembler{}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		if len(data) == 0 {
			continue
		}
		if _, err := tgt.stdin.Write(data); err != nil {
			break
		}
		for _, entry := range asm.Feed(data, s.now()) {
			if err := rec.AppendCommand(entry); err != nil {
				log.Printf("relay command log write failed: %v", err)
			}
		}
	}

	shutdown()
	wg.Wait()
}
