/*
Package pcmfeed plays raw PCM samples that are pushed by a host as they
become available.

Concept

This package offers a "one-pedal" perspective to streaming playback. The
host feeds interleaved 16-bit little-endian samples and the player asks
for more before it runs dry. There are three parties involved:

    Host - feeds samples and reacts on feed requests;
    Player - queues samples and drains them into the sink;
    Sink - the destination of samples, usually an audio device.

It implies the following constraints:

    Feed never blocks on the sink;
    Samples are written to the sink in the order they were fed;
    Only whole frames are ever queued or written.

Playback runs in a dedicated goroutine. Host handlers are called from
another goroutine, so a slow host never delays the sink writes.

Feed requests

The host is notified when the number of queued frames drops to the feed
threshold or below. Notifications are edge-triggered: after one is sent,
no more are sent until the host feeds again or the threshold is changed.
Sentinel threshold requests samples after every write, limited by the
minimal notify interval. Drain notification can be enabled to learn when
the queue is empty:

    p, err := pcmfeed.New(portaudio.Backend{},
        pcmfeed.WithFeedThreshold(8000),
        pcmfeed.WithFeedHandler(func(remaining int) {
            // feed more samples
        }),
    )

Backends

Sinks are opened by backends. This module provides backends for
portaudio, oto and wav files. If sink exposes its play position, the
player tops up the sink buffer only while it has free space.

Lifecycle

Player must be set up with the format before it can be fed. Play, Pause,
Stop and Clear control the playback of the current setup. Release tears
it down and can be called any number of times.
*/
package pcmfeed
