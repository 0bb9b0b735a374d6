package email

import (
	"fmt"
	"net/smtp"
)

// smtpServer is a global variable that stores the address of the SMTP server used to send mail.
var smtpServer string

// auth is a global variable that holds the smtp.Auth used to connect to the SMTP server.
// It is initialized by the smtp.PlainAuth function with the sender's credentials.
var auth smtp.Auth

// fromEmail is a global variable that stores the sender address used as "From" in outgoing mail.
var fromEmail string

// InitEmailService initializes the mail service for a Gmail SMTP account.
// It accepts two arguments:
// - sender: the email address mail is sent from.
// - password: the password (or app password) of the sender's account.
//
// It sets the SMTP server address and sender, builds the PlainAuth, and
// dials the server once to verify the connection is possible.
// Returns true on success, or false and the error.
func InitEmailService(sender, password string) (bool, error) {
	smtpServer = "smtp.gmail.com:587"
	fromEmail = sender

	auth = smtp.PlainAuth(
		"",
		sender,
		password,
		"smtp.gmail.com",
	)

	c, err := smtp.Dial(smtpServer)
	if err != nil {
		return false, fmt.Errorf("cannot connect to the SMTP server: %v", err)
	}

	err = c.Close()
	if err != nil {
		return false, fmt.Errorf("cannot close the SMTP connection: %v", err)
	}

	return true, nil
}

// send assembles headers and an HTML body and ships the mail.
func send(to, subject, body string) error {
	headers := make(map[string]string)
	headers["From"] = fromEmail
	headers["To"] = to
	headers["Subject"] = subject
	headers["MIME-version"] = "1.0"
	headers["Content-Type"] = "text/html; charset=\"UTF-8\""

	message := ""
	for k, v := range headers {
		message += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	message += "\r\n" + body

	return smtp.SendMail(
		smtpServer,
		auth,
		fromEmail,
		[]string{to},
		[]byte(message),
	)
}

// SendConfirmationEmail sends a new user their email confirmation token.
func SendConfirmationEmail(to, token string) error {
	body := `
	<html>
		<body>
			<div style="max-width: 600px; margin: 0 auto; padding: 10px;">
				<h1>Hello,</h1>
				<p>Here is your confirmation token: <strong>` + token + `</strong></p>
				<p>Please run the <code>confirm</code> command in the app and insert the token above, mind the case sensitivity.</p>
			</div>
		</body>
	</html>
	`
	return send(to, "Your Confirmation Token", body)
}

// SendUnlockEmail congratulates a user on a newly unlocked achievement.
// It accepts three arguments:
// - to: the email address of the recipient.
// - title: the display title of the unlocked achievement.
// - xp: the experience points the unlock awarded.
func SendUnlockEmail(to, title string, xp int) error {
	body := fmt.Sprintf(`
	<html>
		<body>
			<div style="max-width: 600px; margin: 0 auto; padding: 10px;">
				<h1>Achievement unlocked!</h1>
				<p>You earned <strong>%s</strong> and received <strong>%d XP</strong>.</p>
				<p>Keep the streak going.</p>
			</div>
		</body>
	</html>
	`, title, xp)
	return send(to, "Achievement unlocked: "+title, body)
}
