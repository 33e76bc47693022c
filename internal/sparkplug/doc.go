// Package sparkplug implements the wire protocol side of the historian:
// the binary payload codec, the topic grammar, and the broker client.
//
// # Codec
//
// Payloads are protobuf-framed metric bundles. Decode handles the
// optionally compressed envelope form (DEFLATE or GZIP selected by an
// "algorithm" side-metric) and recursive template metrics, and coerces
// each metric's value into a closed tagged variant (number, boolean,
// string, null, unsupported). Decode failures are typed as *DecodeError
// and are never fatal: the client drops the message and carries on.
//
// # Topics
//
//	<namespace>/<groupId>/<messageType>/<edgeNodeId>[/<deviceId>[/<extra...>]]
//
// ParseTopic is a pure function over that grammar; ParsePrefixedTopic
// strips a fixed two-segment credential prefix first, for state channels
// nested under a routing prefix.
//
// # Client
//
// Client wraps paho.mqtt.golang. Reconnect timing and backoff live in the
// transport; the client reacts to lifecycle changes and exposes them,
// together with decoded messages, as a typed event stream:
//
//	client, err := sparkplug.Connect(cfg.MQTT, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	for ev := range client.Events() {
//	    switch ev.Type {
//	    case sparkplug.EventMessage:
//	        // decode context in ev.Topic, metrics in ev.Payload
//	    case sparkplug.EventEnd:
//	        return nil
//	    }
//	}
package sparkplug
