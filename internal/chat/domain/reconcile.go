package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// ReconcileOutcome reports how a server-confirmed message was folded
// into the bucket.
type ReconcileOutcome int

const (
	// ReconcileReplaced provisional replaced in place, temp id retained
	ReconcileReplaced ReconcileOutcome = iota
	// ReconcileMergedExisting push arrived first; provisional discarded,
	// locally-known fields merged forward into the existing entry
	ReconcileMergedExisting
	// ReconcileInserted no provisional existed, message inserted fresh
	ReconcileInserted
	// ReconcileDropped confirmation was unusable and nothing changed
	ReconcileDropped
)

// ReconcileConfirmed folds the server confirmation for the provisional
// message tempID into the bucket. Regardless of whether the HTTP
// response or the realtime push arrived first, the bucket converges to
// exactly one entry for the logical message.
func (b *MessageBucket) ReconcileConfirmed(tempID string, confirmed ChatMessage) ReconcileOutcome {
	if i := b.IndexByID(confirmed.ID); i >= 0 {
		// the realtime channel delivered it first; keep that copy but
		// carry forward anything only the provisional knew (voice
		// attachment metadata the synchronous response omits)
		if p := b.IndexByTempID(tempID); p >= 0 && p != i {
			MergeAttachmentMeta(&b.Messages[i], &b.Messages[p])
			b.Messages = append(b.Messages[:p], b.Messages[p+1:]...)
		}
		if b.Messages[i].TempID == "" {
			b.Messages[i].TempID = tempID
		}
		SortMessages(b.Messages)
		return ReconcileMergedExisting
	}

	confirmed.TempID = tempID
	if confirmed.Status == "" {
		confirmed.Status = StatusSent
	}
	if i := b.IndexByTempID(tempID); i >= 0 {
		MergeAttachmentMeta(&confirmed, &b.Messages[i])
		b.Messages[i] = confirmed
		SortMessages(b.Messages)
		return ReconcileReplaced
	}

	b.Messages = append(b.Messages, confirmed)
	SortMessages(b.Messages)
	return ReconcileInserted
}

// ReconcileInbound folds a realtime-delivered message into the bucket,
// consuming at most one matching provisional entry.
func (b *MessageBucket) ReconcileInbound(incoming ChatMessage, matchWindow time.Duration) {
	if i := b.IndexByID(incoming.ID); i >= 0 {
		// duplicate delivery over the second channel; merge forward and keep one
		tempID := b.Messages[i].TempID
		MergeAttachmentMeta(&incoming, &b.Messages[i])
		if incoming.TempID == "" {
			incoming.TempID = tempID
		}
		b.Messages[i] = incoming
		SortMessages(b.Messages)
		return
	}

	if i := b.MatchProvisional(incoming, matchWindow); i >= 0 {
		MergeAttachmentMeta(&incoming, &b.Messages[i])
		if incoming.TempID == "" {
			incoming.TempID = b.Messages[i].TempID
		}
		if incoming.Status == "" || incoming.Status == StatusSending {
			incoming.Status = StatusSent
		}
		b.Messages[i] = incoming
		SortMessages(b.Messages)
		return
	}

	if incoming.Status == "" {
		incoming.Status = StatusSent
	}
	b.Messages = append(b.Messages, incoming)
	SortMessages(b.Messages)
}

// MergeAttachmentMeta copies attachment metadata known to src but absent
// from dst: local paths from the recording, voice duration/waveform and
// image dimensions the server copy may not carry yet.
func MergeAttachmentMeta(dst, src *ChatMessage) {
	if len(src.Attachments) == 0 {
		return
	}
	if len(dst.Attachments) == 0 {
		dst.Attachments = append([]Attachment(nil), src.Attachments...)
		return
	}
	for i := range dst.Attachments {
		if i >= len(src.Attachments) {
			break
		}
		d, s := &dst.Attachments[i], &src.Attachments[i]
		if d.LocalPath == "" {
			d.LocalPath = s.LocalPath
		}
		if d.DurationMS == 0 {
			d.DurationMS = s.DurationMS
		}
		if len(d.Waveform) == 0 {
			d.Waveform = s.Waveform
		}
		if d.Width == 0 {
			d.Width = s.Width
		}
		if d.Height == 0 {
			d.Height = s.Height
		}
	}
}

// ReactionFingerprint normalized hash over (emoji, user) pairs, used to
// suppress duplicate deliveries of an identical reaction state.
func ReactionFingerprint(reactions []Reaction) string {
	pairs := make([]string, 0, len(reactions))
	for _, r := range reactions {
		pairs = append(pairs, r.Emoji+"\x00"+r.UserID)
	}
	sort.Strings(pairs)
	sum := sha1.Sum([]byte(strings.Join(pairs, "\x01")))
	return hex.EncodeToString(sum[:])
}
