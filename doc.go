// Package mqttcore provides an MQTT v3.1.1 client engine for embedded
// device agents.
//
// This package implements the MQTT Version 3.1.1 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - All 14 MQTT v3.1.1 control packet types
//   - QoS 0, 1, 2 publish flows with retransmission
//   - Topic matching with wildcard support (+, #) and master prefixes
//   - On-demand socket attach through an event handler
//   - Keep-alive pings and an idle timeout
//   - Publish throttling driven by backpressure signals
//   - Transport: TCP, TLS, WebSocket, Unix socket, QUIC, HTTP/SOCKS5 proxy
//
// # Packets
//
// The codec works on byte slices so received packets can alias the read
// buffer:
//
//	n, err := mqttcore.EncodePacket(buf, pkt, maxSize)
//	pkt, n, err := mqttcore.DecodePacket(data, maxSize)
//
// ReadPacket and WritePacket work on streams:
//
//	pkt, n, err := mqttcore.ReadPacket(conn, maxSize)
//	n, err := mqttcore.WritePacket(conn, pkt, maxSize)
//
// # Client
//
// A Client never dials on its own. When an operation needs a socket it
// raises EventAttach, and the event handler calls Connect:
//
//	events := mqttcore.EventHandlerFunc(func(c *mqttcore.Client, kind mqttcore.EventKind) {
//	    if kind != mqttcore.EventAttach {
//	        return
//	    }
//	    sock, err := mqttcore.DialURL(ctx, "mqtt://localhost:1883", mqttcore.DialOptions{})
//	    if err != nil {
//	        return
//	    }
//	    c.Connect(ctx, sock, mqttcore.ConnectCleanSession, mqttcore.WaitNone)
//	})
//
//	client, err := mqttcore.New("sensor-1", events, mqttcore.WithKeepAlive(30*time.Second))
//	defer client.Destroy()
//
// AutoAttach does the same with a circuit breaker around the dialer:
//
//	attach := mqttcore.NewAutoAttach("mqtts://broker:8883", mqttcore.NewURLDialer(opts),
//	    mqttcore.ConnectCleanSession, mqttcore.DefaultBreakerConfig(), logger)
//	client, err := mqttcore.New("sensor-1", attach)
//
// Publishing and subscribing block according to WaitFlags:
//
//	err := client.Publish(ctx, "dev/1/status", []byte("up"), 1, mqttcore.WaitAck)
//
//	err = client.Subscribe(ctx, "dev/+/status", 1, mqttcore.MessageHandlerFunc(func(m *mqttcore.Message) {
//	    log.Printf("%s: %s", m.Topic, m.Payload)
//	}), mqttcore.WaitAck)
//
// A master prefix is subscribed once with the broker; later subscriptions
// it covers are only registered locally:
//
//	client.SubscribeMaster(ctx, "dev/#", 1, mqttcore.WaitAck)
//	client.Subscribe(ctx, "dev/+/cmd", 1, handler, mqttcore.WaitNone) // no SUBSCRIBE sent
//
// # Configuration
//
// LoadConfig reads the client settings from YAML:
//
//	cfg, err := mqttcore.LoadConfig("/etc/agent/mqtt.yaml")
//	logger := cfg.NewLogger(os.Stderr)
//	attach, err := cfg.AutoAttach(logger)
//	client, err := mqttcore.New(cfg.ClientID, attach, cfg.Options(logger, nil)...)
package mqttcore
