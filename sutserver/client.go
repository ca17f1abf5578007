package sutserver

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is the adapter-side link to a line-oriented SUT: commands out,
// event lines in.
type Client struct {
	conn   net.Conn
	events chan string
	once   sync.Once
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// Dial connects to the SUT at addr and starts reading events.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial sut %s: %w", addr, err)
	}
	c := &Client{
		conn:   conn,
		events: make(chan string, 64),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.events)
	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		c.events <- line
	}
}

// Send writes one command line.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// Events returns the stream of event lines. The channel closes when the
// connection does.
func (c *Client) Events() <-chan string {
	return c.events
}

// Close shuts the connection down. It is idempotent.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}
