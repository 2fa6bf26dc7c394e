// Package keys builds the shared-store key scheme used by signalling and
// seeder instances.
package keys

import "fmt"

// MovieSegments is the set of segment ids cached for one quality of a movie.
func MovieSegments(movieID, qualityID string) string {
	if qualityID == "" {
		return fmt.Sprintf("movie:%s:segments", movieID)
	}
	return fmt.Sprintf("movie:%s:quality:%s:segments", movieID, qualityID)
}

// MovieQualitySegmentsPattern matches every per-quality segment set of a movie.
func MovieQualitySegmentsPattern(movieID string) string {
	return fmt.Sprintf("movie:%s:quality:*:segments", movieID)
}

func MoviePeers(movieID string) string {
	return fmt.Sprintf("movie:%s:peers", movieID)
}

// SegmentOwners is the set of peers holding one exact segment.
func SegmentOwners(movieID, qualityID, segmentID string) string {
	if qualityID == "" {
		return fmt.Sprintf("movie:%s:segment:%s:owners", movieID, segmentID)
	}
	return fmt.Sprintf("movie:%s:quality:%s:segment:%s:owners", movieID, qualityID, segmentID)
}

// SegmentOwnersPatterns matches every ownership set under a movie, with and
// without a quality component.
func SegmentOwnersPatterns(movieID string) []string {
	return []string{
		fmt.Sprintf("movie:%s:*:segment:*:owners", movieID),
		fmt.Sprintf("movie:%s:segment:*:owners", movieID),
	}
}

func PeerMetrics(peerID string) string {
	return fmt.Sprintf("peer:%s:metrics", peerID)
}

func PeerLastSeen(peerID string) string {
	return fmt.Sprintf("peer:%s:lastSeen", peerID)
}

// RelayChannel carries RTC envelopes between signalling instances.
func RelayChannel(name string) string {
	if name == "" {
		name = "default"
	}
	return "signalling:relay:" + name
}
