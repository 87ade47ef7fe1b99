package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"
	ErrClosureSecret ErrCode = "CLOSURE_SECRET_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden           ErrCode = "FORBIDDEN"
	ErrPermissionDenied    ErrCode = "PERMISSION_DENIED"
	ErrCandidateAccessOnly ErrCode = "CANDIDATE_ACCESS_ONLY"
	ErrAdminAccessOnly     ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidWindow  ErrCode = "INVALID_WINDOW"
	ErrInvalidContent ErrCode = "INVALID_CONTENT"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound           ErrCode = "NOT_FOUND"
	ErrAssessmentNotFound ErrCode = "ASSESSMENT_NOT_FOUND"
	ErrSectionNotFound    ErrCode = "SECTION_NOT_FOUND"
	ErrQuestionNotFound   ErrCode = "QUESTION_NOT_FOUND"
	ErrOptionNotFound     ErrCode = "OPTION_NOT_FOUND"
	ErrAttemptNotFound    ErrCode = "ATTEMPT_NOT_FOUND"

	// ─── Assessment window ─────────────────────────────────────────────
	ErrAssessmentNotStarted ErrCode = "ASSESSMENT_NOT_STARTED"
	ErrAssessmentEnded      ErrCode = "ASSESSMENT_ENDED"
	ErrAssessmentNotEnded   ErrCode = "ASSESSMENT_NOT_ENDED"

	// ─── Session state ─────────────────────────────────────────────────
	ErrSessionNotStarted           ErrCode = "ASSESSMENT_SESSION_NOT_STARTED"
	ErrSessionSubmitted            ErrCode = "ASSESSMENT_ALREADY_SUBMITTED"
	ErrSectionAlreadySubmitted     ErrCode = "SECTION_ALREADY_SUBMITTED"
	ErrPreviousSectionNotSubmitted ErrCode = "PREVIOUS_SECTION_NOT_SUBMITTED"
	ErrSectionNotStarted           ErrCode = "SECTION_NOT_STARTED"
	ErrAssessmentAlreadyStarted    ErrCode = "ASSESSMENT_ALREADY_STARTED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal          ErrCode = "INTERNAL_ERROR"
	ErrDependencyFailure ErrCode = "DEPENDENCY_FAILURE"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."
	case ErrClosureSecret:
		return "Kredensial penutupan ujian tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrCandidateAccessOnly:
		return "Sumber daya ini terbatas untuk peserta ujian."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidWindow:
		return "Waktu selesai harus setelah waktu mulai dan belum lewat."
	case ErrInvalidContent:
		return "Isi ujian tidak valid. Setiap bagian memerlukan soal dan setiap soal memerlukan jawaban benar."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrAssessmentNotFound:
		return "Ujian tidak ditemukan."
	case ErrSectionNotFound:
		return "Bagian ujian tidak ditemukan."
	case ErrQuestionNotFound:
		return "Soal tidak ditemukan."
	case ErrOptionNotFound:
		return "Pilihan jawaban tidak ditemukan untuk soal ini."
	case ErrAttemptNotFound:
		return "Belum ada jawaban untuk soal ini."

	// ─── Assessment window ─────────────────────────────────────────────
	case ErrAssessmentNotStarted:
		return "Ujian belum dimulai."
	case ErrAssessmentEnded:
		return "Waktu ujian telah berakhir."
	case ErrAssessmentNotEnded:
		return "Ujian belum berakhir."

	// ─── Session state ─────────────────────────────────────────────────
	case ErrSessionNotStarted:
		return "Anda belum memulai ujian ini."
	case ErrSessionSubmitted:
		return "Ujian ini sudah Anda kumpulkan."
	case ErrSectionAlreadySubmitted:
		return "Bagian ujian ini sudah dikumpulkan."
	case ErrPreviousSectionNotSubmitted:
		return "Kumpulkan bagian yang sedang dikerjakan terlebih dahulu."
	case ErrSectionNotStarted:
		return "Bagian ujian ini belum dimulai."
	case ErrAssessmentAlreadyStarted:
		return "Jadwal ujian tidak dapat diubah karena ujian sudah dimulai."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	case ErrDependencyFailure:
		return "Layanan sedang tidak tersedia. Silakan coba lagi."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
