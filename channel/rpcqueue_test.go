package channel

import "testing"

func TestRpcQueueFIFOOrdering(t *testing.T) {
	var q rpcQueue
	if !q.empty() {
		t.Fatal("new queue must be empty")
	}

	q.push(rpcEntry{method: &QueueDeclare{Queue: "a"}})
	q.push(rpcEntry{method: &QueueDeclare{Queue: "b"}})
	q.push(rpcEntry{method: &QueueDeclare{Queue: "c"}})

	if q.len() != 3 {
		t.Fatalf("len = %d, want 3", q.len())
	}

	var seen []string
	for !q.empty() {
		head, ok := q.peek()
		if !ok {
			t.Fatal("peek on non-empty queue returned !ok")
		}
		seen = append(seen, head.method.(*QueueDeclare).Queue)
		q.pop()
	}

	want := []string{"a", "b", "c"}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestRpcQueuePeekPopOnEmpty(t *testing.T) {
	var q rpcQueue
	if _, ok := q.peek(); ok {
		t.Error("peek on empty queue must report !ok")
	}
	q.pop() // must not panic
	if q.len() != 0 {
		t.Error("pop on empty queue must leave it empty")
	}
}

func TestRpcQueuePopClearsBackingEntry(t *testing.T) {
	var q rpcQueue
	sink := make(chan rpcResult, 1)
	q.push(rpcEntry{sink: sink, method: &QueueDeclare{Queue: "a"}})
	backing := q.items
	q.pop()
	if q.len() != 0 {
		t.Fatalf("len = %d, want 0", q.len())
	}
	if backing[0].sink != nil || backing[0].method != nil {
		t.Error("pop must clear the popped entry in the backing array")
	}
}
