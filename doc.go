// Package oscquery is an OSCQuery server: a tree of named, typed parameters that peers
// read and write over OSC/UDP, browse as JSON over HTTP, and watch over WebSocket.
//
// # Architecture
//
//	            ┌──────────────────────────────┐
//	 OSC/UDP ──▶│                              │──▶ UDP destinations
//	            │  root.Root                   │
//	 WS binary ▶│  one RWMutex over node.Graph │──▶ WebSocket listeners
//	            │  subscriptions, destinations │
//	 HTTP GET ─▶│  snapshot under read lock    │──▶ NATS mirror (optional)
//	            └──────────────────────────────┘
//
// Structural changes (AddNode, RmNode) take the write lock. Dispatch of inbound OSC,
// value reads and HTTP snapshots take the read lock, so any number of them proceed in
// parallel. Value writes go through value.Value, whose backing stores synchronize
// themselves. Notifications are delivered to transports after the lock is released.
//
// # Usage
//
//	cfg := config.Default()
//	srv, err := oscquery.NewServer(cfg, oscquery.Deps{})
//	if err != nil {
//		return err
//	}
//	if err := srv.Start(ctx); err != nil {
//		return err
//	}
//	defer srv.Stop(5 * time.Second)
//
//	speed := value.NewCell[int32](0)
//	n, _ := node.NewGetSet("speed", "motor speed", nil,
//		value.NewGetSet[int32](speed).WithRange(0, 100).WithClipMode(value.ClipBoth).Build())
//	h, _ := srv.AddNode(n, nil)
//	...
//	speed.Set(42)
//	srv.Trigger("/speed") // push the new value to listeners and destinations
//
// # Packages
//
//   - osc: OSC 1.0 codec and address pattern matching
//   - value: typed parameter storage with access modes, ranges and clipping
//   - node: node kinds and the handle-addressed tree
//   - root: the synchronization boundary, subscriptions and destinations
//   - transport/udp, transport/websocket, transport/query: the three network surfaces
//   - mirror: NATS publisher of tree activity
//   - config, metric, health, component, errors: ambient infrastructure
package oscquery
