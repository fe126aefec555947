package mailer

import "fmt"

// VerificationBody renders the OTP mail for registration and password reset.
func VerificationBody(code string) string {
	return fmt.Sprintf(`<div style="font-family: 'Segoe UI', Arial, sans-serif; max-width: 480px;">
  <h2>Your verification code is: %s</h2>
  <p style="color: #64748b;">The code is valid for a few minutes and can be used once.
  If you did not request it, ignore this message.</p>
</div>`, code)
}

// ForwardNotice renders the official notice mailed to a faculty member when
// a complaint is forwarded to them.
func ForwardNotice(complaintID, location, description, adminNote string) string {
	note := ""
	if adminNote != "" {
		note = fmt.Sprintf(`
      <div style="border-left: 4px solid #BD2426; padding-left: 15px; margin: 20px 0;">
        <p><strong>Administrative Note:</strong><br>%s</p>
      </div>`, adminNote)
	}
	return fmt.Sprintf(`<div style="font-family: 'Segoe UI', Arial, sans-serif; max-width: 600px; border: 1px solid #e2e8f0; border-radius: 8px; overflow: hidden;">
  <div style="background-color: #BD2426; color: white; padding: 20px; text-align: center;">
    <h1 style="margin: 0; font-size: 20px;">FixIt CS-AWKUM Official Notice</h1>
  </div>
  <div style="padding: 25px; color: #334155;">
    <p>Dear Faculty Member,</p>
    <p>The following student complaint has been officially forwarded to you by the
    Department Administration for review and resolution.</p>
    <div style="background-color: #f8fafc; padding: 15px; border-radius: 6px; margin: 20px 0;">
      <p><strong>Complaint ID:</strong> #%s</p>
      <p><strong>Issue:</strong> %s</p>
      <p><strong>Description:</strong> %s</p>
    </div>%s
    <p style="font-size: 13px; color: #64748b; margin-top: 30px;">
      Please acknowledge receipt of this complaint and provide an update to the
      Chairman's office once addressed.
    </p>
  </div>
</div>`, complaintID, location, description, note)
}
