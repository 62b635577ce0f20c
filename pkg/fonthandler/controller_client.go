package fonthandler

import (
	"context"
	"sync/atomic"

	"github.com/developer-mesh/fontedit/pkg/changes"
	"github.com/developer-mesh/fontedit/pkg/fontcontroller"
)

// controllerClient delivers handler pushes to an in-process FontController.
type controllerClient struct {
	fc atomic.Pointer[fontcontroller.FontController]
}

func (c *controllerClient) ExternalChange(ctx context.Context, change changes.Change) error {
	fc := c.fc.Load()
	if fc == nil {
		return nil
	}
	return fc.ApplyExternalChange(ctx, change, true)
}

func (c *controllerClient) ReloadGlyphs(ctx context.Context, glyphNames []string) error {
	if fc := c.fc.Load(); fc != nil {
		fc.ReloadGlyphs(ctx, glyphNames)
	}
	return nil
}

func (c *controllerClient) MessageFromServer(_ context.Context, title, message string) error {
	if fc := c.fc.Load(); fc != nil {
		fc.MessageFromServer(title, message)
	}
	return nil
}

// ConnectController creates a FontController whose remote is a new
// connection to h.
func (h *FontHandler) ConnectController(cfg fontcontroller.Config, opts ...fontcontroller.Option) (*fontcontroller.FontController, *Connection, error) {
	client := &controllerClient{}
	conn := h.Connect(client)
	fc, err := fontcontroller.New(conn, cfg, opts...)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	client.fc.Store(fc)
	return fc, conn, nil
}
