package replica

import (
	"log"
	"net"
)

// RunWriter owns conn for the lifetime of one follower connection: it
// forwards every byte slice received on rx to the socket, in order,
// until rx closes (the registry dropped this follower) or the write
// fails (the follower went away). Either way it unregisters itself and
// closes conn on exit.
func RunWriter(conn net.Conn, id int64, rx <-chan []byte, registry *Registry) {
	defer registry.Unregister(id)
	defer conn.Close()

	for payload := range rx {
		if _, err := conn.Write(payload); err != nil {
			log.Printf("replica writer: write to %s failed: %v", conn.RemoteAddr(), err)
			return
		}
	}
}
