// Package bambu talks to the Bambu Lab cloud MQTT broker to fetch one
// status report from a printer.
//
// A [Transport] owns the broker connection. Two implementations exist:
// MQTT 3.1.1 on Eclipse Paho's paho.mqtt.golang (the default, matching
// what the printer cloud documents for third-party clients) and MQTT 5
// on Paho v2's [autopaho]. Both connect without blocking, subscribe to
// device/<serial>/report once the broker accepts the session, and then
// publish a "pushall" request so the printer sends a full report
// instead of waiting for its next periodic push.
//
// A [Session] drives a transport through one poll: connect, wait for
// the first report carrying AMS data or for the wait budget to run out,
// and disconnect. Reports are handed from the transport's callback
// goroutine to the waiting caller through a one-slot channel; later
// reports are dropped.
package bambu
