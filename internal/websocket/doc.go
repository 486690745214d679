// Package websocket carries live subscriptions over WebSocket connections.
//
// A connection may hold any number of subscriptions, each opened with a
// SUBSCRIBE frame naming one of two streams:
//
//	{"type":"SUBSCRIBE","id":"s1","channel":"messageAdded","roomId":"lobby"}
//	{"type":"SUBSCRIBE","id":"s2","channel":"messageSentToUser","user":"bob"}
//
// Every message posted afterwards arrives as a DATA frame tagged with the
// subscription id. UNSUBSCRIBE {"id":...} ends one stream and POST frames
// submit messages. Closing the connection cancels all of its subscriptions.
package websocket
