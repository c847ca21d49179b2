package demo

import (
	"embed"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/vango-dev/syncore/pkg/bundle"
	"github.com/vango-dev/syncore/pkg/client"
	"github.com/vango-dev/syncore/pkg/connector"
	"github.com/vango-dev/syncore/pkg/rpc"
	"github.com/vango-dev/syncore/pkg/session"
)

// Type identifiers of the demo connectors.
const (
	TypeRoot   = "demo.Root"
	TypeButton = "demo.Button"
	TypeLabel  = "demo.Label"
)

// appKey stores the Root on the session.
const appKey = "demo.root"

var (
	// ButtonServerRPC is implemented by the server half of a button.
	ButtonServerRPC = rpc.NewInterface("demo.ButtonServerRpc",
		rpc.Method{Name: "click"},
	)

	// LabelClientRPC is implemented by the client half of a label.
	LabelClientRPC = rpc.NewInterface("demo.LabelClientRpc",
		rpc.Method{Name: "highlight", LastOnly: true},
	)
)

//go:embed bundles
var bundleFiles embed.FS

// Bundles declares the demo bundles. The root type ships in the eager
// bundle, the widgets in their own.
func Bundles() []bundle.Bundle {
	return []bundle.Bundle{
		{Name: "eager", Identifiers: []string{TypeRoot}},
		{Name: "widgets", Identifiers: []string{TypeButton, TypeLabel}},
	}
}

// BundleSource serves the embedded bundle files.
func BundleSource() *bundle.FSSource {
	return &bundle.FSSource{Fs: afero.FromIOFS{FS: bundleFiles}, Dir: "bundles"}
}

// RootState is the shared state of the root connector.
type RootState struct {
	Title  string        `json:"title"`
	Button connector.Ref `json:"button"`
	Label  connector.Ref `json:"label"`
	Clock  connector.Ref `json:"clock"`
}

// ButtonState is the shared state of a button.
type ButtonState struct {
	Caption string `json:"caption"`
	Enabled bool   `json:"enabled"`
}

// LabelState is the shared state of a label.
type LabelState struct {
	Text string `json:"text"`
}

// Root is the top-level demo connector.
type Root struct {
	connector.Base
	State RootState

	Button *Button
	Label  *Label
	Clock  *Label
}

func (r *Root) TypeIdentifier() string { return TypeRoot }
func (r *Root) SharedState() any       { return &r.State }

// Button counts clicks and reports them on its label.
type Button struct {
	connector.Base
	State ButtonState

	clicks int
	label  *Label
	ui     *session.UI
}

func (b *Button) TypeIdentifier() string { return TypeButton }
func (b *Button) SharedState() any       { return &b.State }

// Clicks returns the number of clicks received.
func (b *Button) Clicks() int { return b.clicks }

// Label displays text.
type Label struct {
	connector.Base
	State LabelState
}

func (l *Label) TypeIdentifier() string { return TypeLabel }
func (l *Label) SharedState() any       { return &l.State }

// Init builds the demo UI of a new session.
func Init(ui *session.UI) error {
	root := &Root{State: RootState{Title: "syncore demo"}}
	ui.Register(root)

	root.Label = &Label{State: LabelState{Text: "Not clicked yet"}}
	root.Clock = &Label{}
	root.Button = &Button{
		State: ButtonState{Caption: "Click me", Enabled: true},
		label: root.Label,
		ui:    ui,
	}
	ui.Attach(root, root.Button)
	ui.Attach(root, root.Label)
	ui.Attach(root, root.Clock)

	root.State.Button = connector.RefTo(root.Button)
	root.State.Label = connector.RefTo(root.Label)
	root.State.Clock = connector.RefTo(root.Clock)
	ui.MarkDirty(root)

	ui.Set(appKey, root)
	return nil
}

// App returns the root installed by Init.
func App(ui *session.UI) (*Root, bool) {
	root, ok := ui.Get(appKey).(*Root)
	return root, ok
}

// ServerRPC returns the dispatcher for the demo server RPC.
func ServerRPC(logger *slog.Logger) *rpc.Dispatcher {
	d := rpc.NewDispatcher(logger)
	d.Register(ButtonServerRPC, "click", rpc.Method0(click))
	return d
}

func click(b *Button) error {
	if !b.State.Enabled {
		return nil
	}
	b.clicks++
	b.label.State.Text = fmt.Sprintf("Clicked %d times", b.clicks)
	b.ui.MarkDirty(b.label)
	return b.ui.ClientProxy(LabelClientRPC, b.label).Call("highlight", b.clicks)
}

// ClientRPC returns the dispatcher for the demo client RPC. fn is called
// with the label and the click count of every highlight.
func ClientRPC(logger *slog.Logger, fn func(label *client.Connector, clicks int)) *rpc.Dispatcher {
	d := rpc.NewDispatcher(logger)
	d.Register(LabelClientRPC, "highlight", rpc.Method1(func(label *client.Connector, clicks int) error {
		if fn != nil {
			fn(label, clicks)
		}
		return nil
	}))
	return d
}
