package replay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"kafka-stream-replay/internal/models"
)

type fakeChannel struct {
	mu      sync.Mutex
	initErr error
	failAt  int // 1-based send number that fails, 0 never
	gate    chan struct{}
	sent    []*models.Payload
	sentAt  []time.Time
	inits   int
	closed  int
}

func (f *fakeChannel) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.initErr
}

func (f *fakeChannel) Send(ctx context.Context, p *models.Payload) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	f.sentAt = append(f.sentAt, time.Now())
	if f.failAt > 0 && len(f.sent) == f.failAt {
		return &models.TransportError{Topic: "t", Err: errors.New("broker rejected write")}
	}
	return nil
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeChannel) sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChannel) dialer() Dialer {
	return func(string, string) Channel { return f }
}

func mustDefinition(t *testing.T, body string) models.QueueDefinition {
	t.Helper()
	def, err := models.ParseDefinition([]byte(body))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}
	return def
}

func textDefinition(n int) models.QueueDefinition {
	items := make([]models.Item, n)
	for i := range items {
		items[i] = models.TextItem(fmt.Sprintf("m%d", i))
	}
	return models.QueueDefinition{BrokerAddress: "b:9092", Topic: "t", Items: items}
}

func runJob(def models.QueueDefinition, ch *fakeChannel) *Job {
	j := NewJob("job-1", def, ch.dialer())
	j.Start(context.Background())
	return j
}

func TestJobAcksEveryPayloadInOrder(t *testing.T) {
	ch := &fakeChannel{}
	j := runJob(textDefinition(5), ch)

	st := j.State()
	if st.Status != models.StatusDone {
		t.Fatalf("expected done, got %s (%s)", st.Status, st.Error)
	}
	if !slices.Equal(st.MessagesAcked, []int{0, 1, 2, 3, 4}) {
		t.Fatalf("unexpected acked: %v", st.MessagesAcked)
	}
	for i, p := range ch.sent {
		if want := fmt.Sprintf("m%d", i); p.Text != want {
			t.Fatalf("send %d carried %q, want %q", i, p.Text, want)
		}
	}
	if ch.closed != 1 {
		t.Fatalf("channel should be closed once, got %d", ch.closed)
	}
}

func TestJobFailsFast(t *testing.T) {
	for k := 0; k < 4; k++ {
		ch := &fakeChannel{failAt: k + 1}
		j := runJob(textDefinition(4), ch)

		st := j.State()
		if st.Status != models.StatusErrored {
			t.Fatalf("k=%d: expected errored, got %s", k, st.Status)
		}
		want := make([]int, 0, k)
		for i := 0; i < k; i++ {
			want = append(want, i)
		}
		if !slices.Equal(st.MessagesAcked, want) {
			t.Fatalf("k=%d: acked %v, want %v", k, st.MessagesAcked, want)
		}
		if ch.sends() != k+1 {
			t.Fatalf("k=%d: no send may follow the failure, got %d sends", k, ch.sends())
		}
	}
}

func TestJobSkipsEmptyItems(t *testing.T) {
	ch := &fakeChannel{}
	def := mustDefinition(t, `{"kafkaHost":"b:9092","topic":"t","messages":["a",null,"",0,false,true,"b"]}`)
	j := runJob(def, ch)

	st := j.State()
	if st.Status != models.StatusDone {
		t.Fatalf("expected done, got %s", st.Status)
	}
	if !slices.Equal(st.MessagesAcked, []int{0, 6}) {
		t.Fatalf("unexpected acked: %v", st.MessagesAcked)
	}
	if ch.sends() != 2 {
		t.Fatalf("empty items must not be sent, got %d sends", ch.sends())
	}
}

func TestJobPauseDelaysNextSend(t *testing.T) {
	ch := &fakeChannel{}
	def := mustDefinition(t, `{"kafkaHost":"b:9092","topic":"t","messages":["a",60,"b"]}`)
	j := runJob(def, ch)

	st := j.State()
	if !slices.Equal(st.MessagesAcked, []int{0, 2}) {
		t.Fatalf("pause must not be acked: %v", st.MessagesAcked)
	}
	if gap := ch.sentAt[1].Sub(ch.sentAt[0]); gap < 60*time.Millisecond {
		t.Fatalf("expected at least 60ms between sends, got %s", gap)
	}
}

func TestJobExampleHealthyChannel(t *testing.T) {
	ch := &fakeChannel{}
	def := mustDefinition(t, `{"kafkaHost":"b:9092","topic":"t","messages":["hello",50,{"payload":"world","key":"k1"}]}`)
	j := runJob(def, ch)

	st := j.State()
	if st.Status != models.StatusDone || !slices.Equal(st.MessagesAcked, []int{0, 2}) {
		t.Fatalf("unexpected state: %+v", st)
	}
	if ch.sent[1].Key != "k1" || ch.sent[1].Text != "world" {
		t.Fatalf("unexpected keyed payload: %+v", ch.sent[1])
	}
}

func TestJobExampleSecondSendFails(t *testing.T) {
	ch := &fakeChannel{failAt: 2}
	def := mustDefinition(t, `{"kafkaHost":"b:9092","topic":"t","messages":["hello",50,{"payload":"world","key":"k1"}]}`)
	j := runJob(def, ch)

	st := j.State()
	if st.Status != models.StatusErrored || !slices.Equal(st.MessagesAcked, []int{0}) {
		t.Fatalf("unexpected state: %+v", st)
	}
	if !strings.HasSuffix(st.Error, "messages acked: [0]") {
		t.Fatalf("error should list acked indices, got %q", st.Error)
	}
	if !strings.Contains(st.Error, "broker rejected write") {
		t.Fatalf("error should carry the cause, got %q", st.Error)
	}
}

func TestJobInitFailure(t *testing.T) {
	ch := &fakeChannel{initErr: &models.ConnectionError{Addr: "b:9092", Err: errors.New("connection refused")}}
	j := runJob(textDefinition(2), ch)

	st := j.State()
	if st.Status != models.StatusErrored {
		t.Fatalf("expected errored, got %s", st.Status)
	}
	if len(st.MessagesAcked) != 0 || ch.sends() != 0 {
		t.Fatalf("nothing should be sent after a failed init: %+v sends=%d", st, ch.sends())
	}
	if !strings.Contains(st.Error, "connection refused") || !strings.HasSuffix(st.Error, "messages acked: []") {
		t.Fatalf("unexpected error text %q", st.Error)
	}
	if ch.closed != 1 {
		t.Fatalf("channel should be closed after failed init, got %d", ch.closed)
	}
}

func TestJobStartIsNoOpOnceTerminal(t *testing.T) {
	for _, failAt := range []int{0, 2} {
		ch := &fakeChannel{failAt: failAt}
		j := runJob(textDefinition(3), ch)
		before := j.State()
		sends := ch.sends()

		j.Start(context.Background())

		after := j.State()
		if after.Status != before.Status || after.Error != before.Error || !slices.Equal(after.MessagesAcked, before.MessagesAcked) {
			t.Fatalf("restart changed state: before=%+v after=%+v", before, after)
		}
		if ch.sends() != sends || ch.inits != 1 {
			t.Fatalf("restart must not touch the broker: sends %d->%d inits=%d", sends, ch.sends(), ch.inits)
		}
	}
}

func TestJobSnapshotsArePrefixes(t *testing.T) {
	const n = 20
	ch := &fakeChannel{gate: make(chan struct{})}
	j := NewJob("job-1", textDefinition(n), ch.dialer())
	if st := j.State(); st.Status != models.StatusNotStarted || len(st.MessagesAcked) != 0 {
		t.Fatalf("unexpected initial state: %+v", st)
	}

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			last := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				st := j.State()
				for i, idx := range st.MessagesAcked {
					if idx != i {
						t.Errorf("snapshot is not a prefix: %v", st.MessagesAcked)
						return
					}
				}
				if len(st.MessagesAcked) < last {
					t.Errorf("acked shrank from %d to %d", last, len(st.MessagesAcked))
					return
				}
				last = len(st.MessagesAcked)
			}
		}()
	}

	for i := 0; i < n; i++ {
		ch.gate <- struct{}{}
	}
	<-done
	close(stop)
	readers.Wait()

	if st := j.State(); st.Status != models.StatusDone || len(st.MessagesAcked) != n {
		t.Fatalf("unexpected final state: %+v", st)
	}
}

func TestJobStateIsACopy(t *testing.T) {
	j := runJob(textDefinition(2), &fakeChannel{})
	st := j.State()
	st.MessagesAcked[0] = 99
	if j.State().MessagesAcked[0] != 0 {
		t.Fatalf("callers must not be able to mutate job state")
	}
}

func TestJobCancelledDuringPause(t *testing.T) {
	ch := &fakeChannel{}
	def := mustDefinition(t, `{"kafkaHost":"b:9092","topic":"t","messages":["a",60000,"b"]}`)
	j := NewJob("job-1", def, ch.dialer())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()
	for j.State().Status != models.StatusConnected || len(j.State().MessagesAcked) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not stop after cancellation")
	}
	st := j.State()
	if st.Status != models.StatusErrored || !slices.Equal(st.MessagesAcked, []int{0}) {
		t.Fatalf("unexpected state after cancel: %+v", st)
	}
}
