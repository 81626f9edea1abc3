package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("task.")
	defer b.Unsubscribe(sub)

	b.Publish(TopicTaskCompleted, TaskEvent{TaskID: "t-1", Status: "completed", Attempt: 1})

	select {
	case ev := <-sub.Ch():
		if ev.Topic != TopicTaskCompleted {
			t.Fatalf("topic = %q, want %q", ev.Topic, TopicTaskCompleted)
		}
		payload, ok := ev.Payload.(TaskEvent)
		if !ok {
			t.Fatalf("payload type = %T", ev.Payload)
		}
		if payload.TaskID != "t-1" || payload.Attempt != 1 {
			t.Fatalf("payload = %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	taskSub := b.Subscribe("task.")
	allSub := b.Subscribe("")
	defer b.Unsubscribe(taskSub)
	defer b.Unsubscribe(allSub)

	b.Publish(TopicIngestCycle, IngestCycleEvent{Identity: "joao", Ingested: 2})

	select {
	case ev := <-taskSub.Ch():
		t.Fatalf("task subscriber received %q", ev.Topic)
	default:
	}

	select {
	case ev := <-allSub.Ch():
		if ev.Topic != TopicIngestCycle {
			t.Fatalf("topic = %q", ev.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber received nothing")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)

	if _, ok := <-sub.Ch(); ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", b.SubscriberCount())
	}

	// Unsubscribing twice must not panic.
	b.Unsubscribe(sub)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	for i := 0; i < defaultBufferSize+10; i++ {
		b.Publish(TopicTaskProcessing, TaskEvent{TaskID: "t"})
	}

	received := 0
	for {
		select {
		case <-sub.Ch():
			received++
		default:
			if received != defaultBufferSize {
				t.Fatalf("received = %d, want %d", received, defaultBufferSize)
			}
			return
		}
	}
}
