// Package mail renders and sends the gateway's transactional email.
//
// Mailer is the sending port. SMTPMailer delivers through a relay and
// upgrades to TLS when the server offers STARTTLS; LogMailer records emails
// in the log when no relay is configured. RenderContactAdmin turns a
// ContactForm into the notification for the shop admin.
package mail
