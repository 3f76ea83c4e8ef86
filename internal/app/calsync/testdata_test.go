package calsync

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//schedulr//calsync test//EN
BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20260301T000000Z
SUMMARY:Standup
DTSTART:20260302T090000Z
DTEND:20260302T091500Z
RRULE:FREQ=DAILY;COUNT=5
EXDATE:20260304T090000Z
END:VEVENT
BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20260301T000000Z
RECURRENCE-ID:20260305T090000Z
SUMMARY:Standup (moved)
DTSTART:20260305T100000Z
DTEND:20260305T101500Z
END:VEVENT
BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20260301T000000Z
RECURRENCE-ID:20260306T090000Z
STATUS:CANCELLED
SUMMARY:Standup
DTSTART:20260306T090000Z
DTEND:20260306T091500Z
END:VEVENT
BEGIN:VEVENT
UID:offsite@example.com
DTSTAMP:20260301T000000Z
SUMMARY:Offsite
DTSTART;VALUE=DATE:20260303
DTEND;VALUE=DATE:20260304
END:VEVENT
BEGIN:VEVENT
UID:review@example.com
DTSTAMP:20260301T000000Z
SUMMARY:Design review
DTSTART:20260302T130000Z
DTEND:20260302T143000Z
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20260301T000000Z
SUMMARY:No identifier
DTSTART:20260302T150000Z
DTEND:20260302T160000Z
END:VEVENT
END:VCALENDAR
`
