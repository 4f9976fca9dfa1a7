// Package poller reads sensor values and relay feedback from the bus.
//
// Two loops run independently: one for sensor channels and one for relay
// coils. Each loop starts its next cycle max(0, interval-elapsed) after the
// previous cycle completes, so a slow bus stretches the cycle instead of
// stacking them up.
//
// Within a cycle, gateways are polled in parallel and the devices behind a
// gateway one after another. The transport serialises access per gateway
// anyway; polling sequentially keeps a dead device from delaying its
// neighbours by more than one timeout each.
//
// Sensor readings are persisted and handed to reading observers. Relay
// feedback only updates online state; a coil that disagrees with the
// commanded state is logged as drift and left alone.
//
// A device is marked offline after OfflineThreshold consecutive failed
// polls and back online on the first response. A Modbus exception counts
// as a response.
//
// Usage:
//
//	p := poller.New(poller.Config{
//	    SensorInterval:   10 * time.Second,
//	    RelayInterval:    5 * time.Second,
//	    OfflineThreshold: 3,
//	}, transportMgr, deviceRegistry, readingRepo, relayStateRepo)
//	p.OnReading(mqttBridge.PublishReading)
//	p.AfterSensorCycle(func(ctx context.Context, at time.Time) {
//	    evaluator.Evaluate(ctx, at)
//	})
//	go p.Run(ctx)
package poller
