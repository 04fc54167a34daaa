// Package mqtt provides MQTT connectivity for Gray Logic OTA.
//
// The OTA service talks to the Z-Wave bridge over MQTT: node status and
// events flow in, firmware commands flow out, and the bridge acknowledges
// each command. Firmware snapshots are mirrored to retained state topics
// for other consumers.
//
//	Gray Logic OTA ↔ MQTT Broker ↔ Z-Wave Bridge
//
// This package manages:
//   - Connection to the broker with auto-reconnect and subscription restore
//   - An offline Last Will and a retained online status
//   - Publishing with QoS and payload-size checks
//   - The topic hierarchy (see Topics)
//
// # Usage
//
//	topics := mqtt.Topics{Prefix: cfg.Firmware.TopicPrefix}
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllNodes(mqtt.KindEvent), 1,
//	    func(topic string, payload []byte) error {
//	        nodeID, _, _ := topics.ParseNode(topic)
//	        log.Printf("node %d: %s", nodeID, payload)
//	        return nil
//	    })
//
// Messages are delivered in order (SetOrderMatters), so a handler must
// not block on work that itself waits for a later message.
package mqtt
